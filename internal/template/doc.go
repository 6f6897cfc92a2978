// Package template expands action templates into canvas subgraphs.
//
// An action template names an ACTION plus the RESOURCE nodes it consumes and
// the DELIVERABLE nodes it produces. Expand turns one into concrete nodes and
// flow edges around an anchor point:
//
//	RESOURCE ─┐
//	RESOURCE ─┼──▶ ACTION ──▶ DELIVERABLE
//	          │               DELIVERABLE
//
// Every id is generated during expansion, before anything is stored, so the
// edges can name their endpoints and a failed Commit can be retried with the
// same ids.
//
// Templates come from the repository. LoadCatalog reads a YAML catalog file
// and Seed stores the entries the repository does not have yet.
package template
