// Package domain translates MCP tool calls into canvas API reads.
//
// Every tool here is read-only: MCP clients inspect the canvas, they never
// mutate it. Mutations stay behind the HTTP API's grant checks.
package domain
