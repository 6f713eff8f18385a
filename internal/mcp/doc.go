// Package mcp implements the Model Context Protocol (MCP) server for codegrep.
//
// The MCP server exposes four tools to AI coding assistants:
//   - index_codebase: Revalidate the index of the project root
//   - search_code: Phrase, regex or fuzzy search over indexed Units
//   - get_status: Index statistics and health
//   - list_key_shapes: Generalized key paths usable in keys searches
//
// One server is bound to one project root and its cache directory. The
// indexer and the searcher share the store lock, so lazy eviction during a
// search never writes while a revalidation is running.
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is started via the serve command:
//
//	codegrep serve --root /path/to/project
//
// It then listens on stdin for MCP protocol messages and writes responses
// to stdout. Logs go to the rotating log file in the cache directory.
//
// # Tool: index_codebase
//
//	Request:
//	{
//	  "name": "index_codebase",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "prune": true,
//	    "parse_failure_policy": "advance"
//	  }
//	}
//
//	Response:
//	{
//	  "committed": true,
//	  "files_scanned": 336,
//	  "files_up_to_date": 89,
//	  "files_indexed": 247,
//	  "units_extracted": 8432,
//	  "timed_out": false,
//	  "duration_ms": 3520
//	}
//
// A run that hits the configured timeout still commits the files written
// before the deadline and reports "timed_out": true.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "hello",
//	    "kind": "string-literal",
//	    "search_mode": "phrase"
//	  }
//	}
//
//	Response:
//	{
//	  "total": 1,
//	  "files": [
//	    {
//	      "path": "/path/to/project/a.py",
//	      "matches": [
//	        {"kind": "string-literal", "start_line": 3, "end_line": 3, "content": "hello"}
//	      ]
//	    }
//	  ]
//	}
//
// The index is revalidated before every search unless "revalidate" is
// false. Paths that no longer exist are dropped from the result and listed
// under "evicted".
//
// "keys" is an array of exact flattened key paths, each of which must equal
// one key line of a unit. It narrows "query" and may replace it:
//
//	{"keys": ["function_decl.identifier.run"], "kind": "function-decl"}
//
// # Error Handling
//
// Errors are returned as *MCPError values:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32001: No supported source files under the path
//   - -32002: Indexing already in progress
//   - -32003: Search failed in the store
//   - -32004: Empty query and no keys
package mcp
