package graph

import (
	"reflect"
	"testing"
)

// TestReadyNodes tests ready-set computation across graph shapes.
func TestReadyNodes(t *testing.T) {
	tests := []struct {
		name  string
		setup func() *Graph
		want  []string
	}{
		{
			name: "empty graph",
			setup: func() *Graph {
				return New()
			},
			want: []string{},
		},
		{
			name: "nodes with no edges are all ready",
			setup: func() *Graph {
				g := New()
				g.AddNode("a")
				g.AddNode("b")
				return g
			},
			want: []string{"a", "b"},
		},
		{
			name: "dependent is not ready",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				return g
			},
			want: []string{"a"},
		},
		{
			name: "removing the edge makes the dependent ready",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				g.RemoveEdge("a", "b")
				return g
			},
			want: []string{"a", "b"},
		},
		{
			name: "diamond blocks the sink until both edges drop",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				g.AddEdge("a", "c")
				g.AddEdge("b", "d")
				g.AddEdge("c", "d")
				g.RemoveEdge("b", "d")
				return g
			},
			want: []string{"a"},
		},
		{
			name: "removing a node purges its edges",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				g.AddEdge("a", "c")
				g.RemoveNode("a")
				return g
			},
			want: []string{"b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.setup().ReadyNodes()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadyNodes() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestIdempotence verifies double AddNode/AddEdge leave the graph
// structurally identical to a single call.
func TestIdempotence(t *testing.T) {
	once := New()
	once.AddNode("a")
	once.AddEdge("a", "b")

	twice := New()
	twice.AddNode("a")
	twice.AddNode("a")
	twice.AddEdge("a", "b")
	twice.AddEdge("a", "b")

	if got, want := twice.Len(), once.Len(); got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	if got, want := twice.Dependents("a"), once.Dependents("a"); !reflect.DeepEqual(got, want) {
		t.Errorf("Dependents(a) = %v, want %v", got, want)
	}
	if got, want := twice.Dependencies("b"), once.Dependencies("b"); !reflect.DeepEqual(got, want) {
		t.Errorf("Dependencies(b) = %v, want %v", got, want)
	}
	if got, want := twice.ReadyNodes(), once.ReadyNodes(); !reflect.DeepEqual(got, want) {
		t.Errorf("ReadyNodes() = %v, want %v", got, want)
	}
}

// TestMissingIDsAreNoOps verifies structural operations never fail on
// unknown nodes.
func TestMissingIDsAreNoOps(t *testing.T) {
	g := New()
	g.RemoveNode("ghost")
	g.RemoveEdge("ghost", "phantom")

	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
	if g.HasNode("ghost") {
		t.Error("HasNode(ghost) = true, want false")
	}
}

// TestValidate tests cycle detection.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() *Graph
		wantErr bool
	}{
		{
			name: "linear chain",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				g.AddEdge("b", "c")
				return g
			},
		},
		{
			name: "isolated nodes",
			setup: func() *Graph {
				g := New()
				g.AddNode("a")
				g.AddNode("b")
				return g
			},
		},
		{
			name: "direct cycle",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				g.AddEdge("b", "a")
				return g
			},
			wantErr: true,
		},
		{
			name: "transitive cycle",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "b")
				g.AddEdge("b", "c")
				g.AddEdge("c", "a")
				return g
			},
			wantErr: true,
		},
		{
			name: "self loop",
			setup: func() *Graph {
				g := New()
				g.AddEdge("a", "a")
				return g
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.setup()
			order, err := g.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() succeeded, want cycle error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if len(order) != g.Len() {
				t.Errorf("Validate() returned %d ids, want %d", len(order), g.Len())
			}
		})
	}
}
