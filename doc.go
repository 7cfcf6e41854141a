// Package hilagent is a multi-session ReAct agent service with human review of
// tool calls.
//
// A request travels through three processes:
//
//	agentcli ──HTTP──▶ agentserver ──Redis list──▶ agentworker ──▶ LLM / tools
//	                        │                           │
//	                        └──── Redis sessions ◀──────┘
//	                                                    └──▶ Postgres checkpoints + long-term memory
//
// agentserver accepts queries and reviewer decisions, records the session and
// task state in Redis and queues the work. agentworker runs the agent for each
// task, pausing before reviewed tool calls, and writes the outcome back on the
// session. agentcli polls the session state and collects decisions.
//
// # Packages
//
//   - agent: checkpointed ReAct loop, interrupts and the human review wrapper
//   - tool: local tools and tools of remote MCP servers
//   - llms/provider, llms/ernie: chat model construction
//   - worker, queue: task handlers and the Redis task queue
//   - server, client: HTTP API and its Go client
//   - session: Redis session and task records
//   - store and its backends: checkpoints (short-term memory)
//   - memory: long-term per-user memory
//   - config, log: configuration and logging
//
// # Human review
//
// A tool wrapped with agent.WithHumanReview interrupts the run before it is
// called. The session becomes "interrupted" and carries the pending tool call.
// The reviewer answers with one of:
//
//	accept    call the tool with the proposed arguments
//	edit      call the tool with {"args": {...}} instead
//	reject    skip the call and tell the model it was rejected
//	response  skip the call and hand {"args": "text"} to the model as the result
//
// # Quick start
//
//	docker run -d -p 6379:6379 redis
//	docker run -d -p 5432:5432 -e POSTGRES_PASSWORD=postgres postgres
//	go run ./cmd/agentserver
//	go run ./cmd/agentworker
//	go run ./cmd/agentcli
package hilagent
