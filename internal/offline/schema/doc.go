// Package schema defines the records the TaskMaster client keeps on disk.
//
// # Tasks
//
// Task mirrors the JSON the API returns from GET /tasks. The cached task set
// is always the last full fetch, replaced wholesale:
//
//	{
//	  "_id": "652f1c...",
//	  "title": "Buy milk",
//	  "status": "pending",
//	  "priority": "medium",
//	  "category": "personal",
//	  "dueDate": "2026-10-20T00:00:00"
//	}
//
// # Queued operations
//
// Operation is a write captured while offline. Only POST, PUT and DELETE are
// representable:
//
//	op, err := schema.NewOperation(schema.MethodPost, "/tasks",
//	    map[string]any{"title": "Buy milk"}, time.Now())
//
// The pendingSync key holds a JSON array of operations in capture order.
//
// # Dependencies
//
// Dependencies is a local-only map from task ID to prerequisite task IDs.
// Add rejects duplicates with ErrDependencyExists.
package schema
