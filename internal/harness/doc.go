// Package harness runs save-pipeline scenarios: scripted units of work
// against a real SQLite database, checked step by step and compared to
// golden snapshots.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: collection_replace
//	description: "What this scenario demonstrates"
//	metadata: ../metadata          # directory of CUE entity declarations
//	policy: delete_insert          # or update_in_place
//	sessions:
//	  - name: seed
//	    steps:
//	      - add:
//	          as: books
//	          type: Store
//	          values: { Name: Books, CreatedAt: "2023-01-01" }
//	          children:
//	            Items: [{ type: Item, values: { ItemCode: lotr, Name: ... } }]
//	      - save: { inserts: 2 }
//	  - name: replace
//	    steps:
//	      - load: { type: Store, as: [books] }
//	      - replace:
//	          object: books
//	          navigation: Items
//	          with: [{ type: Item, values: { ItemCode: lotr, Name: ... } }]
//	      - detect: true
//	      - debug_view: |
//	          Item (Shared) {StoreId: 1, ItemCode: lotr} Deleted
//	          ...
//	      - save: { operations: 3 }
//	      - expect: { object: books.Items[0], state: Unchanged }
//	assertions:
//	  - type: row
//	    entity: Store
//	    where: { StoreId: 1 }
//	    expect: { Name: New Books }
//	  - type: op_order
//	    session: replace
//	    ops: [delete Item, insert Item, update Store]
//
// Each session is a fresh tracking session over the same database. Objects
// named with "as" can be referenced by later steps of the same session,
// and members of their collections with a path such as books.Items[0].
//
// # Step Types
//
//   - add: track a new object graph as Added
//   - load: query rows and track them as Unchanged
//   - set: assign property values
//   - replace, append: change a collection
//   - remove: stage an object for deletion
//   - detect: run change detection
//   - debug_view: compare the session's debug view, ignoring indentation
//   - expect: check an object's state and values
//   - save: save and check operation counts or the expected error code
//
// A step that cannot be executed stops the scenario. Failed expectations
// are recorded and the scenario continues.
//
// # Assertion Types
//
//   - row: exactly one row matches where and holds the expected values
//   - row_count: number of rows, optionally filtered by where
//   - op_contains: an operation of the given kind and entity with a
//     matching key and values subset
//   - op_count: number of operations, narrowed by session, entity or kind
//   - op_order: operations labelled "kind Entity" occur in order
//
// # Golden Snapshots
//
// Snapshot renders debug views and saved operations as canonical JSON.
// Operations keep the placeholder keys the engine planned, and session
// IDs come from the scenario's session names, so snapshots are identical
// across runs. RunWithGolden compares a run against its golden file;
// regenerate with:
//
//	go test ./internal/harness -update
package harness
