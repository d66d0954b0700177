// Package elastic delivers structured log documents to an Elasticsearch
// cluster through the bulk API. A Sink queues encoded documents without
// blocking the caller and a single worker batches them by size or interval.
// Delivery problems are handed to a callback and never surface to writers.
package elastic
