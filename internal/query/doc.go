// Package query holds the inbound query model, its validation, and the
// normalizer that turns a CRM answer into the envelope callers receive.
//
// The normalizer does not know the CRM's schema. It looks for the first
// non-empty prose field (natural_response, answer, response, summary, message,
// result) and the first structured field (table_data, table, data, rows,
// results, records), then shapes the result text by Format:
//
//	table    structured JSON, else prose, else the raw body
//	natural  prose, else NoSummary
//	both     prose and structured JSON separated by a blank line, else the raw body
package query
