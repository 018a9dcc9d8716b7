// Package forcesim defines the wire-level types shared by the forcesim client.
//
// # Reading Guide
//
//   - agent.go: agent classes, the closed set of agent configs and AgentSpec
//   - subscriber.go: subscriber types and SubscriberConfig
//   - info.go: Info objects emitted into the market
//   - point.go: streamed (timepoint, value) points
//
// # Architecture
//
// The forcesim package only holds data types; behavior lives in sub-packages:
//   - forcesim/client/: response envelope parser and the HTTP command client
//   - forcesim/subscriber/: UDP listener and Subscriber wait primitives
//   - forcesim/loader/: YAML config and JSON agent/subscriber/info loaders
//   - forcesim/session/: Agent, AgentSet and the block-run orchestration
//   - forcesim/points/: point recorder and JSON points files
package forcesim
