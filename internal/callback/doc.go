// Package callback delivers terminal job state to the callback URL supplied
// at submission.
//
// HTTP(S) targets receive a JSON POST; amqp:// targets publish the same body
// to the exchange and routing key named in the URL query. Single-stage jobs
// send the stage view, chained jobs the whole job view. Delivery failures
// are retried a bounded number of times and never change job state.
package callback
