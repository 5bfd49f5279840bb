// Package mcp exposes the assistant as MCP tools over stdio.
//
// Tools: answer, ingest, synthesize_prompt, generate_faq and get_document.
// Every tool takes a tenant_id and rejects malformed ids before touching
// storage or models. Tool errors carry a generic message; the full error
// is logged.
package mcp
