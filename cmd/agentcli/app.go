package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
)

// API is the part of client.Client the front end uses.
type API interface {
	Invoke(ctx context.Context, req schema.AgentRequest) (*schema.InvokeResponse, error)
	Resume(ctx context.Context, req schema.InterruptResponse) (*schema.InvokeResponse, error)
	SystemInfo(ctx context.Context) (*schema.SystemInfoResponse, error)
	ActiveSessionID(ctx context.Context, user string) (string, error)
	SessionIDs(ctx context.Context, user string) ([]string, error)
	Tasks(ctx context.Context, user, session string) ([]string, error)
	Status(ctx context.Context, user, session, task string) (*schema.SessionStatusResponse, error)
	WaitWhileRunning(ctx context.Context, user, session, task string, interval time.Duration) (*schema.SessionStatusResponse, error)
	WriteLongTerm(ctx context.Context, user, info string) (*schema.WriteMemoryResponse, error)
}

var errQuit = errors.New("quit")

type app struct {
	api      API
	in       *bufio.Reader
	out      io.Writer
	markdown *glamour.TermRenderer
	logger   log.Logger

	systemMessage string
	// maxWait bounds how long a running task is polled before giving up.
	maxWait time.Duration
	poll    time.Duration

	user    string
	session string
	task    string
}

func newApp(api API, in io.Reader, out io.Writer) *app {
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	return &app{
		api:      api,
		in:       bufio.NewReader(in),
		out:      out,
		markdown: r,
		logger:   &log.NoOpLogger{},
		maxWait:  30 * time.Second,
		poll:     time.Second,
	}
}

func (a *app) println(s string) {
	fmt.Fprintln(a.out, s)
}

func (a *app) info(format string, args ...any) {
	a.println(InfoStyle.Render(fmt.Sprintf(format, args...)))
}

func (a *app) warn(format string, args ...any) {
	a.println(WarningStyle.Render(fmt.Sprintf(format, args...)))
}

func (a *app) fail(format string, args ...any) {
	a.println(ErrorStyle.Render(fmt.Sprintf(format, args...)))
}

// ask prints label and reads one line. EOF ends the program.
func (a *app) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(a.out, "%s %s: ", PromptStyle.Render(label), DimStyle.Render("("+def+")"))
	} else {
		fmt.Fprintf(a.out, "%s: ", PromptStyle.Render(label))
	}
	line, err := a.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if line == "" {
			return "", errQuit
		}
	}
	line = strings.TrimSpace(line)
	if line == "" {
		line = def
	}
	return line, nil
}

func (a *app) renderMarkdown(s string) string {
	if a.markdown == nil {
		return s
	}
	out, err := a.markdown.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

func (a *app) run(ctx context.Context) error {
	a.println(panel("ReAct agent with human review", "Front end for the agent service (queued tasks)", Violet))

	if info, err := a.api.SystemInfo(ctx); err != nil {
		a.warn("could not read system info: %v", err)
	} else {
		a.info("sessions in the system: %d", info.SessionsCount)
		for user, ids := range info.ActiveUsers {
			a.info("  %s: %s", user, strings.Join(ids, ", "))
		}
	}

	user, err := a.ask("User id (a new id creates a user, an existing one resumes it)", fmt.Sprintf("user_%d", time.Now().Unix()))
	if err != nil {
		return nil
	}
	a.user = user

	active, err := a.api.ActiveSessionID(ctx, user)
	if err != nil {
		a.warn("could not read the active session: %v", err)
	}
	if active != "" {
		a.session = active
		a.info("continuing your most recent session %s", active)
	} else {
		a.session = uuid.NewString()
		a.info("opened a new session %s", a.session)
	}

	for {
		err := a.step(ctx)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("user %s session %s task %s: %v", a.user, a.session, a.task, err)
			a.fail("error: %v", err)
		}
	}
}

// step reads one command or query and handles it.
func (a *app) step(ctx context.Context) error {
	query, err := a.ask("\nYour question ('exit', 'status', 'new', 'history', 'setting')", "hello")
	if err != nil {
		return err
	}

	switch strings.ToLower(query) {
	case "exit":
		a.info("bye")
		return errQuit
	case "new":
		a.session = uuid.NewString()
		a.task = ""
		a.info("opened a new session %s", a.session)
		return nil
	case "status":
		if a.task == "" {
			a.warn("no task submitted yet")
			return nil
		}
		return a.inspect(ctx, a.task)
	case "history":
		return a.history(ctx)
	case "setting":
		return a.setting(ctx)
	}

	a.task = uuid.NewString()
	a.logger.Debug("invoke task %s in session %s", a.task, a.session)
	resp, err := a.api.Invoke(ctx, schema.AgentRequest{
		UserID:        a.user,
		SessionID:     a.session,
		TaskID:        a.task,
		Query:         query,
		SystemMessage: a.systemMessage,
	})
	if err != nil {
		return fmt.Errorf("submit query: %w", err)
	}
	a.info("task %s submitted; type 'status' to follow it", resp.TaskID)
	return nil
}

func (a *app) history(ctx context.Context) error {
	ids, err := a.api.SessionIDs(ctx, a.user)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		a.session = uuid.NewString()
		a.info("no earlier sessions; opened a new session %s", a.session)
		return nil
	}
	a.info("sessions of %s: %s", a.user, strings.Join(ids, ", "))
	session, err := a.ask("Session id", "")
	if err != nil {
		return err
	}
	a.session = session

	tasks, err := a.api.Tasks(ctx, a.user, session)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		a.info("session %s has no tasks; your next question starts one", session)
		return nil
	}
	a.info("tasks of %s: %s", session, strings.Join(tasks, ", "))
	task, err := a.ask("Task id", "")
	if err != nil {
		return err
	}
	task, _, _ = strings.Cut(task, ":")
	a.task = task
	return a.inspect(ctx, task)
}

func (a *app) setting(ctx context.Context) error {
	info, err := a.ask("Preference to remember", "")
	if err != nil {
		return err
	}
	if info == "" {
		return nil
	}
	if _, err := a.api.WriteLongTerm(ctx, a.user, info); err != nil {
		a.warn("could not store the preference: %v", err)
		return nil
	}
	a.println(SuccessStyle.Render("stored for " + a.user))
	return nil
}

// inspect shows the state of a task and drives it forward: it waits while the
// task runs and asks for a decision when it is interrupted.
func (a *app) inspect(ctx context.Context, task string) error {
	st, err := a.api.Status(ctx, a.user, a.session, task)
	if err != nil {
		return err
	}
	a.logger.Debug("task %s status %s", task, st.Status)

	if st.Status == schema.StatusRunning {
		a.warn("task %s is running, waiting up to %s", task, a.maxWait)
		wctx, cancel := context.WithTimeout(ctx, a.maxWait)
		st, err = a.api.WaitWhileRunning(wctx, a.user, a.session, task, a.poll)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			a.warn("task %s is still running", task)
			return nil
		}
		if err != nil {
			return err
		}
	}

	a.println(panel("Task "+task, statusSummary(st), Cyan))

	switch st.Status {
	case schema.StatusNotFound:
		a.warn("%s", st.Message)
	case schema.StatusCompleted:
		if st.LastResponse != nil && st.LastResponse.Result != nil {
			if msgs := st.LastResponse.Result.Messages; len(msgs) > 0 {
				a.println(panel("Agent answer", a.renderMarkdown(msgs[len(msgs)-1].Content), Green))
			}
		}
	case schema.StatusError:
		msg := "unknown error"
		if st.LastResponse != nil && st.LastResponse.Message != "" {
			msg = st.LastResponse.Message
		}
		a.println(panel("Task failed", msg, Red))
	case schema.StatusInterrupted:
		if st.LastResponse == nil || st.LastResponse.InterruptData == nil {
			a.warn("task %s is interrupted but carries no interrupt data", task)
			return nil
		}
		return a.review(ctx, task, st.LastResponse.InterruptData)
	case schema.StatusIdle:
		a.info("task %s is queued", task)
	}
	return nil
}

func statusSummary(st *schema.SessionStatusResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\nSession: %s\nStatus: %s", st.UserID, st.SessionID, st.Status)
	if st.LastQuery != "" {
		fmt.Fprintf(&b, "\nLast query: %s", st.LastQuery)
	}
	if st.LastUpdated > 0 {
		sec := int64(st.LastUpdated)
		nsec := int64((st.LastUpdated - float64(sec)) * 1e9)
		fmt.Fprintf(&b, "\nUpdated: %s", time.Unix(sec, nsec).Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// review asks the user to decide on a paused tool call and submits the
// decision.
func (a *app) review(ctx context.Context, task string, hi *schema.HumanInterrupt) error {
	a.println(panel("The agent needs your decision", hi.Description, Yellow))

	req := schema.InterruptResponse{UserID: a.user, SessionID: a.session, TaskID: task}
	for {
		choice, err := a.ask("Your choice", "")
		if err != nil {
			return err
		}
		switch strings.ToLower(choice) {
		case "yes":
			req.ResponseType = schema.ResponseAccept
		case "no":
			req.ResponseType = schema.ResponseReject
		case "edit":
			raw, err := a.ask("New tool arguments (JSON object)", "")
			if err != nil {
				return err
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				a.fail("not a JSON object: %v", err)
				continue
			}
			req.ResponseType = schema.ResponseEdit
			req.Args = map[string]any{"args": args}
		case "response":
			text, err := a.ask("Answer to hand back instead of calling the tool", "")
			if err != nil {
				return err
			}
			req.ResponseType = schema.ResponseFeedback
			req.Args = map[string]any{"args": text}
		default:
			a.fail("enter 'yes', 'no', 'edit' or 'response'")
			continue
		}
		break
	}

	a.logger.Debug("resume task %s with %s", task, req.ResponseType)
	resp, err := a.api.Resume(ctx, req)
	if err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	a.info("decision '%s' submitted for task %s; type 'status' to follow it", req.ResponseType, resp.TaskID)
	return nil
}
