// Package services contains the services that run a harness invocation.
//
// The services own everything that talks to the outside world: the broker, the remote engine and the operator.
// They are wired together in main and handed to the status server.
//
// Current services include:
//   - BrokerService:
//     Owns the AMQP 0.9.1 connection, declares the RPC and events queues and publishes run events
//   - RenderClient:
//     Implements renderer.Renderer by calling the engine worker over the RPC queue
//   - CommandConsole:
//     The training loop hook executing operator commands typed on the console or queued by the status server
//   - StatusBoard:
//     The latest stage, training progress and evaluation of the run, read by the status server
//   - HarnessService:
//     Runs an invocation end to end: setup, training, snapshot, evaluation and screenshots
package services
