// Package paths provides the canonical persisted key layout.
//
// Every uuid owns a disjoint set of keys, so last-writer-wins storage never
// needs multi-key transactions.
//
// # Key Structure
//
//	execstream/
//	  └── <uuid>/
//	      ├── messages   (message cache snapshot)
//	      ├── ui         (UI interaction state)
//	      └── reloaded   (reload flag)
//
// # Usage
//
//	s := paths.SessionPath("7f0c...")
//	key := s.MessagesKey() // execstream/7f0c.../messages
package paths
