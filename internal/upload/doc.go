// Package upload delivers pump events to a remote collector.
//
// HTTPSink posts each batch as JSON and reports back which events the
// collector acknowledged. It satisfies the dose store's upload sink
// contract: the completion callback fires exactly once per request, with
// an empty list when nothing was uploaded.
package upload
