// Package types provides shared type definitions for codegrep.
//
// # Units
//
// A Unit is one construct extracted from a parsed source file: a
// declaration, an import, a literal or an expression fragment. Its content
// is a ValueNode tree:
//
//	unit := types.Unit{
//	    Path:      "/src/app/main.go",
//	    Kind:      types.KindFunctionDecl,
//	    StartLine: 12,
//	    EndLine:   20,
//	    Node: types.Fields{Name: "function_decl", Children: []types.ValueNode{
//	        types.Leaf{Name: "identifier", Value: "run"},
//	    }},
//	}
//
// # Key Paths
//
// Keys flattens a tree into dotted key paths:
//
//	types.Keys(unit.Node)
//	// [function_decl function_decl.identifier function_decl.identifier.run]
//
// Array elements are addressed by index ("parameters.[0].parameter...").
// GeneralizedKeys replaces leaf values with {STRING} and indices with [],
// which gives the vocabulary of shapes present in a corpus.
//
// # Errors
//
// ErrFileAccess, ErrParse, ErrStoreWrite, ErrStoreQuery and ErrStoreInit
// classify failures across the indexer, store and searcher. Use errors.Is.
package types
