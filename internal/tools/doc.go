// Package tools is the named-operation registry and the dispatcher that
// executes it.
//
// The registry is fixed at construction: natural_query forwards to the CRM,
// list_tools and server_info are local introspection. Dispatch is a single
// map lookup, and an unknown name is rejected before a credential is resolved
// or the CRM is contacted.
package tools
