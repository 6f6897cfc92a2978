package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/layerflow/layerflow-core/internal/infrastructure/database"
)

// Repository is the persistence collaborator behind the engine.
//
// No call is assumed to be transactional with any other. CreateNode and
// CreateEdge are idempotent by id so a partially failed batch can be re-sent
// with the same pre-generated ids. AutoSave is a full replace of one
// sub-canvas, so duplicate deliveries are harmless.
type Repository interface {
	// Workflows
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	CreateWorkflow(ctx context.Context, name, description string, access AccessLevel) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Canvas contents
	GetNodes(ctx context.Context, workflowID string, layer Layer, parentNodeID *string) ([]Node, error)
	GetEdges(ctx context.Context, workflowID string, layer Layer) ([]Edge, error)
	CreateNode(ctx context.Context, workflowID string, n *Node) error
	UpdateNode(ctx context.Context, workflowID string, n *Node) error
	DeleteNode(ctx context.Context, workflowID, id string) error
	CreateEdge(ctx context.Context, workflowID string, e *Edge) error
	AutoSave(ctx context.Context, workflowID string, addr Address, nodes []Node, edges []Edge) error

	// Export
	ExportWorkflow(ctx context.Context, workflowID string) (*ExportDocument, error)

	// Templates
	ListActionTemplates(ctx context.Context) ([]ActionTemplate, error)
	CreateActionTemplate(ctx context.Context, t *ActionTemplate) error
	ListTemplates(ctx context.Context) ([]WorkflowTemplate, error)
	CreateTemplate(ctx context.Context, t *WorkflowTemplate) error
}

const nodeColumns = `id, type, layer, parent_node_id, position_x, position_y, payload`

const edgeColumns = `id, source_id, target_id, layer, type, label`

// sameCanvas limits a node upsert's DO UPDATE to the row's own canvas. A
// conflicting id anywhere else leaves the row alone and affects no rows.
const sameCanvas = `nodes.workflow_id = excluded.workflow_id
			AND nodes.layer = excluded.layer
			AND nodes.parent_node_id IS excluded.parent_node_id`

// SQLiteRepository implements Repository on the schema in migrations/.
// The database must be opened with foreign keys enabled.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Workflows ──────────────────────────────────────────────────────────────

// ListWorkflows returns every workflow, most recently updated first.
func (r *SQLiteRepository) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, access_level, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()

	var workflows []Workflow
	for rows.Next() {
		w, scanErr := scanWorkflow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning workflow: %w", scanErr)
		}
		workflows = append(workflows, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflows: %w", err)
	}
	return workflows, nil
}

// GetWorkflow returns one workflow's metadata.
func (r *SQLiteRepository) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, access_level, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("querying workflow: %w", err)
	}
	return w, nil
}

// CreateWorkflow inserts a workflow with a generated id.
func (r *SQLiteRepository) CreateWorkflow(ctx context.Context, name, description string, access AccessLevel) (*Workflow, error) {
	if access == "" {
		access = AccessPrivate
	}
	now := time.Now().UTC().Truncate(time.Second)
	w := &Workflow{
		ID:          GenerateID(),
		Name:        strings.TrimSpace(name),
		AccessLevel: access,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if description != "" {
		w.Description = &description
	}
	if err := ValidateWorkflow(w); err != nil {
		return nil, err
	}
	if err := r.insertWorkflow(ctx, r.db, w); err != nil {
		return nil, err
	}
	return w, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteRepository) insertWorkflow(ctx context.Context, db execer, w *Workflow) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, access_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID,
		w.Name,
		nullableString(w.Description),
		string(w.AccessLevel),
		w.CreatedAt.Format(time.RFC3339),
		w.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	return nil
}

// DeleteWorkflow removes a workflow and, by cascade, every node and edge in it.
func (r *SQLiteRepository) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	return expectOneRow(result, ErrWorkflowNotFound)
}

// ─── Nodes & edges ──────────────────────────────────────────────────────────

// GetNodes returns the nodes of one sub-canvas in insertion order.
func (r *SQLiteRepository) GetNodes(ctx context.Context, workflowID string, layer Layer, parentNodeID *string) ([]Node, error) {
	if err := r.ensureWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE workflow_id = ? AND layer = ? AND parent_node_id IS ? AND deleted_at IS NULL
		ORDER BY rowid`
	return r.queryNodes(ctx, query, workflowID, string(layer), nullableString(parentNodeID))
}

// GetEdges returns every edge on the given layer, across all sub-canvases.
// Callers keep the ones whose endpoints they loaded.
func (r *SQLiteRepository) GetEdges(ctx context.Context, workflowID string, layer Layer) ([]Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges
		WHERE workflow_id = ? AND layer = ?
		ORDER BY rowid`
	return r.queryEdges(ctx, query, workflowID, string(layer))
}

// CreateNode inserts a node. Re-sending a node whose id is already stored
// on the same canvas is a no-op (a node dropped by an autosave is revived).
// An id stored on another canvas or workflow is ErrNodeExists.
func (r *SQLiteRepository) CreateNode(ctx context.Context, workflowID string, n *Node) error {
	if err := ValidateNode(n); err != nil {
		return err
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes (
			workflow_id, `+nodeColumns+`, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET deleted_at = NULL
		WHERE `+sameCanvas,
		workflowID,
		n.ID,
		string(n.Type),
		string(n.Layer),
		nullableString(n.ParentNodeID),
		n.Position.X,
		n.Position.Y,
		string(payload),
		now,
		now,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: workflow %s or parent node missing", ErrInvalidReference, workflowID)
		}
		return fmt.Errorf("inserting node: %w", err)
	}
	return expectStored(result, ErrNodeExists, n.ID)
}

// UpdateNode replaces the mutable fields of a stored node.
func (r *SQLiteRepository) UpdateNode(ctx context.Context, workflowID string, n *Node) error {
	if err := ValidateNode(n); err != nil {
		return err
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET
			type = ?, position_x = ?, position_y = ?, payload = ?, updated_at = ?
		WHERE id = ? AND workflow_id = ? AND deleted_at IS NULL`,
		string(n.Type),
		n.Position.X,
		n.Position.Y,
		string(payload),
		time.Now().UTC().Format(time.RFC3339),
		n.ID,
		workflowID,
	)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return expectOneRow(result, ErrNodeNotFound)
}

// DeleteNode removes a node, its edges, and the sub-canvases beneath it.
func (r *SQLiteRepository) DeleteNode(ctx context.Context, workflowID, id string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM nodes WHERE id = ? AND workflow_id = ?", id, workflowID)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return expectOneRow(result, ErrNodeNotFound)
}

// CreateEdge inserts an edge. Re-sending an edge whose id is already stored
// with the same endpoints is a no-op; any other stored edge with that id is
// ErrEdgeExists. Both endpoints must already be stored.
func (r *SQLiteRepository) CreateEdge(ctx context.Context, workflowID string, e *Edge) error {
	if err := ValidateEdge(e); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO edges (workflow_id, `+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label
		WHERE edges.workflow_id = excluded.workflow_id
			AND edges.source_id = excluded.source_id
			AND edges.target_id = excluded.target_id`,
		workflowID,
		e.ID,
		e.SourceID,
		e.TargetID,
		string(e.Layer),
		string(e.Type),
		nullableString(e.Label),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &ValidationError{
				Field:  "endpoints",
				Reason: fmt.Sprintf("edge %s references a node that is not stored", e.ID),
				Err:    ErrInvalidReference,
			}
		}
		return fmt.Errorf("inserting edge: %w", err)
	}
	return expectStored(result, ErrEdgeExists, e.ID)
}

// AutoSave replaces the sub-canvas at addr with the given batch in one
// transaction.
//
//  1. Stored nodes at addr that are absent from the batch are marked
//     deleted. Their sub-canvases stay stored, so upserting the node again
//     (an undo) brings them back.
//  2. Batch nodes are upserted. An id stored on another canvas or workflow
//     fails the save with ErrNodeExists.
//  3. Edges leaving a node of this canvas are replaced by the batch edges.
//     An edge id stored elsewhere fails the save with ErrEdgeExists.
func (r *SQLiteRepository) AutoSave(ctx context.Context, workflowID string, addr Address, nodes []Node, edges []Edge) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(nodes))
	for i := range nodes {
		if err := ValidateNode(&nodes[i]); err != nil {
			return err
		}
		if !nodes[i].Address().Equal(addr) {
			return &ValidationError{
				Field:  "address",
				Reason: fmt.Sprintf("node %s belongs to %s, batch is for %s", nodes[i].ID, nodes[i].Address(), addr),
				Err:    ErrInvalidNode,
			}
		}
		keep[nodes[i].ID] = struct{}{}
	}
	for i := range edges {
		if err := ValidateEdge(&edges[i]); err != nil {
			return err
		}
		_, srcOK := keep[edges[i].SourceID]
		_, dstOK := keep[edges[i].TargetID]
		if !srcOK || !dstOK {
			return &ValidationError{
				Field:  "endpoints",
				Reason: fmt.Sprintf("edge %s leaves the batch", edges[i].ID),
				Err:    ErrInvalidReference,
			}
		}
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := touchWorkflow(ctx, tx, workflowID); err != nil {
			return err
		}

		existing, err := canvasNodeIDs(ctx, tx, workflowID, addr)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339)
		for _, id := range existing {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE nodes SET deleted_at = ? WHERE id = ?", now, id); err != nil {
				return fmt.Errorf("deleting node %s: %w", id, err)
			}
		}

		for i := range nodes {
			if err := upsertNode(ctx, tx, workflowID, &nodes[i], now); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM edges WHERE workflow_id = ? AND source_id IN (
				SELECT id FROM nodes
				WHERE workflow_id = ? AND layer = ? AND parent_node_id IS ?
			)`,
			workflowID, workflowID, string(addr.Layer), nullableString(addr.ParentNodeID),
		); err != nil {
			return fmt.Errorf("clearing canvas edges: %w", err)
		}
		for i := range edges {
			e := &edges[i]
			// Edges of this canvas were cleared above, so a conflict is
			// an edge stored elsewhere.
			result, err := tx.ExecContext(ctx, `
				INSERT INTO edges (workflow_id, `+edgeColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING`,
				workflowID, e.ID, e.SourceID, e.TargetID,
				string(e.Layer), string(e.Type), nullableString(e.Label),
			)
			if err != nil {
				return fmt.Errorf("inserting edge %s: %w", e.ID, err)
			}
			if err := expectStored(result, ErrEdgeExists, e.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func touchWorkflow(ctx context.Context, tx *sql.Tx, workflowID string) error {
	result, err := tx.ExecContext(ctx,
		"UPDATE workflows SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), workflowID)
	if err != nil {
		return fmt.Errorf("touching workflow: %w", err)
	}
	return expectOneRow(result, ErrWorkflowNotFound)
}

func canvasNodeIDs(ctx context.Context, tx *sql.Tx, workflowID string, addr Address) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM nodes
		WHERE workflow_id = ? AND layer = ? AND parent_node_id IS ? AND deleted_at IS NULL`,
		workflowID, string(addr.Layer), nullableString(addr.ParentNodeID))
	if err != nil {
		return nil, fmt.Errorf("querying canvas nodes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning node id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating canvas nodes: %w", err)
	}
	return ids, nil
}

func upsertNode(ctx context.Context, tx *sql.Tx, workflowID string, n *Node, now string) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (
			workflow_id, `+nodeColumns+`, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			position_x = excluded.position_x,
			position_y = excluded.position_y,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			deleted_at = NULL
		WHERE `+sameCanvas,
		workflowID,
		n.ID,
		string(n.Type),
		string(n.Layer),
		nullableString(n.ParentNodeID),
		n.Position.X,
		n.Position.Y,
		string(payload),
		now,
		now,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: parent of node %s is not stored", ErrInvalidReference, n.ID)
		}
		return fmt.Errorf("upserting node %s: %w", n.ID, err)
	}
	return expectStored(result, ErrNodeExists, n.ID)
}

// ─── Templates ──────────────────────────────────────────────────────────────

// ListActionTemplates returns all action templates by category then name.
func (r *SQLiteRepository) ListActionTemplates(ctx context.Context) ([]ActionTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action_name, description, category, resources, deliverables
		FROM action_templates ORDER BY category, action_name`)
	if err != nil {
		return nil, fmt.Errorf("querying action templates: %w", err)
	}
	defer rows.Close()

	var templates []ActionTemplate
	for rows.Next() {
		var t ActionTemplate
		var description, category sql.NullString
		var resources, deliverables string
		if err := rows.Scan(&t.ID, &t.ActionName, &description, &category, &resources, &deliverables); err != nil {
			return nil, fmt.Errorf("scanning action template: %w", err)
		}
		t.Description = description.String
		t.Category = category.String
		if err := json.Unmarshal([]byte(resources), &t.Resources); err != nil {
			return nil, fmt.Errorf("unmarshalling resources of %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(deliverables), &t.Deliverables); err != nil {
			return nil, fmt.Errorf("unmarshalling deliverables of %s: %w", t.ID, err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action templates: %w", err)
	}
	return templates, nil
}

// CreateActionTemplate stores an action template.
func (r *SQLiteRepository) CreateActionTemplate(ctx context.Context, t *ActionTemplate) error {
	if err := ValidateActionTemplate(t); err != nil {
		return err
	}
	resources := t.Resources
	if resources == nil {
		resources = []ResourceDescriptor{}
	}
	deliverables := t.Deliverables
	if deliverables == nil {
		deliverables = []string{}
	}
	resourcesJSON, err := json.Marshal(resources)
	if err != nil {
		return fmt.Errorf("marshalling resources: %w", err)
	}
	deliverablesJSON, err := json.Marshal(deliverables)
	if err != nil {
		return fmt.Errorf("marshalling deliverables: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO action_templates (id, action_name, description, category, resources, deliverables)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.ActionName,
		nullableText(t.Description),
		nullableText(t.Category),
		string(resourcesJSON),
		string(deliverablesJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrTemplateExists, t.ID)
		}
		return fmt.Errorf("inserting action template: %w", err)
	}
	return nil
}

// ListTemplates returns saved workflow templates by name.
func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, category, document, created_at
		FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []WorkflowTemplate
	for rows.Next() {
		var t WorkflowTemplate
		var description, category sql.NullString
		var document, createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &description, &category, &document, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		t.Description = description.String
		t.Category = category.String
		t.Document = &ExportDocument{}
		if err := json.Unmarshal([]byte(document), t.Document); err != nil {
			return nil, fmt.Errorf("unmarshalling template %s: %w", t.ID, err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			t.CreatedAt = ts
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	return templates, nil
}

// CreateTemplate stores a workflow template. An empty id is generated.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t *WorkflowTemplate) error {
	if t == nil || strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidDocument)
	}
	if t.Document == nil {
		return fmt.Errorf("%w: template %q has no document", ErrInvalidDocument, t.Name)
	}
	if t.ID == "" {
		t.ID = GenerateID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	document, err := json.Marshal(t.Document)
	if err != nil {
		return fmt.Errorf("marshalling template document: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, description, category, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		nullableText(t.Description),
		nullableText(t.Category),
		string(document),
		t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrTemplateExists, t.ID)
		}
		return fmt.Errorf("inserting template: %w", err)
	}
	return nil
}

// ─── Query helpers ──────────────────────────────────────────────────────────

func (r *SQLiteRepository) ensureWorkflow(ctx context.Context, workflowID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM workflows WHERE id = ?", workflowID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWorkflowNotFound
	}
	if err != nil {
		return fmt.Errorf("checking workflow: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryNodes(ctx context.Context, query string, args ...any) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	nodes := []Node{}
	for rows.Next() {
		n, scanErr := scanNode(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning node: %w", scanErr)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

func (r *SQLiteRepository) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	edges := []Edge{}
	for rows.Next() {
		e, scanErr := scanEdge(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning edge: %w", scanErr)
		}
		edges = append(edges, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return edges, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(scanner rowScanner) (*Workflow, error) {
	var w Workflow
	var description sql.NullString
	var access, createdAt, updatedAt string

	if err := scanner.Scan(&w.ID, &w.Name, &description, &access, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		w.Description = &description.String
	}
	w.AccessLevel = AccessLevel(access)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		w.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		w.UpdatedAt = t
	}
	return &w, nil
}

func scanNode(scanner rowScanner) (*Node, error) {
	var n Node
	var nodeType, layer, payload string
	var parent sql.NullString

	err := scanner.Scan(&n.ID, &nodeType, &layer, &parent, &n.Position.X, &n.Position.Y, &payload)
	if err != nil {
		return nil, err
	}
	n.Type = NodeType(nodeType)
	n.Layer = Layer(layer)
	if parent.Valid {
		n.ParentNodeID = &parent.String
	}
	if payload != "" && payload != "{}" {
		if jsonErr := json.Unmarshal([]byte(payload), &n.Payload); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling payload of %s: %w", n.ID, jsonErr)
		}
	}
	return &n, nil
}

func scanEdge(scanner rowScanner) (*Edge, error) {
	var e Edge
	var layer, edgeType string
	var label sql.NullString

	if err := scanner.Scan(&e.ID, &e.SourceID, &e.TargetID, &layer, &edgeType, &label); err != nil {
		return nil, err
	}
	e.Layer = Layer(layer)
	e.Type = EdgeType(edgeType)
	if label.Valid {
		e.Label = &label.String
	}
	return &e, nil
}

// expectStored turns an upsert that touched no row into exists: the id is
// taken by a row the statement was not allowed to update.
func expectStored(result sql.Result, exists error, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s is stored on another canvas or workflow", exists, id)
	}
	return nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
