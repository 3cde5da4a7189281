// Package errors provides the structured error taxonomy used by the plugin
// registry and its dispatch path.
//
// # Error Codes
//
// Registry failures have dedicated codes:
//
//   - DUPLICATE_ITEM: an item name is already registered in a registry
//   - ITEM_NOT_FOUND: lookup or call for an absent item
//   - REGISTRY_NOT_FOUND: lookup or call for an unknown registry
//   - PLUGIN_CALL_FAILED: a plugin's own Call reported failure
//   - SETUP_FAILED: a plugin's SetUp failed (the item is pruned, never fatal)
//   - CAPABILITY_MISMATCH: a plugin or registry does not match the bound capability
//
// # Error Categories
//
//   - Transient: the remote side may recover (extension unreachable, timeouts)
//   - Permanent: repeating the call will not help
//   - Internal: bugs, panics, undecodable payloads
//
// The registry never retries. Categories only inform the caller.
//
// # Usage
//
//	err := errors.ItemNotFound("table", "processes")
//	if errors.Is(err, errors.ErrCodeItemNotFound) {
//	    // handle
//	}
//
// # JSON Serialization
//
// Errors marshal to JSON so that a failure produced in an extension process
// keeps its code after crossing the process boundary:
//
//	data, _ := json.Marshal(err)
//	var decoded errors.Error
//	_ = json.Unmarshal(data, &decoded)
package errors
