package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/hilagent/agent"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
)

// BookHotelArgs are the arguments of book_hotel.
type BookHotelArgs struct {
	HotelName string `json:"hotel_name" jsonschema:"description=Name of the hotel to book"`
}

// NewBookHotel returns a simulated hotel booking tool.
func NewBookHotel() *Func[BookHotelArgs] {
	return NewFunc("book_hotel", "Hotel booking tool", func(_ context.Context, args BookHotelArgs) (string, error) {
		name := strings.TrimSpace(args.HotelName)
		if name == "" {
			return "", errors.New("hotel_name is required")
		}
		return fmt.Sprintf("Successfully booked a stay at %s.", name), nil
	})
}

// MultiplyArgs are the arguments of multiply.
type MultiplyArgs struct {
	A float64 `json:"a" jsonschema:"description=First factor"`
	B float64 `json:"b" jsonschema:"description=Second factor"`
}

// NewMultiply returns a tool that multiplies two numbers.
func NewMultiply() *Func[MultiplyArgs] {
	return NewFunc("multiply", "Tool that computes the product of two numbers", func(_ context.Context, args MultiplyArgs) (string, error) {
		a := decimal.NewFromFloat(args.A)
		b := decimal.NewFromFloat(args.B)
		return fmt.Sprintf("%s times %s equals %s.", a, b, a.Mul(b)), nil
	})
}

// Builtin returns the local tools: book_hotel behind human review and
// multiply without it.
func Builtin(logger log.Logger) []tools.Tool {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return []tools.Tool{
		agent.WithHumanReview(NewBookHotel(), schema.AllowAll(), agent.WithReviewLogger(logger)),
		NewMultiply(),
	}
}
