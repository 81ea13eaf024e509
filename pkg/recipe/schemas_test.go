package recipe

import "testing"

func TestSchemaRegistry_ValidDocument(t *testing.T) {
	sr := NewSchemaRegistry()

	doc := mustDoc(t, `
name: r
source:
  type: csv
  filepath: in.csv
destination:
  type: csv
  filepath: out.csv
runtime:
  batch_size: 100
  state:
    backend: redis
    addr: localhost:6379
`)
	if err := sr.ValidateDocument(doc); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestSchemaRegistry_InvalidDocuments(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name string
		text string
	}{
		{"empty name", `
name: ""
source: {type: csv}
destination: {type: csv}
`},
		{"missing destination", `
name: r
source: {type: csv}
`},
		{"bad write mode", `
name: r
source: {type: csv}
destination: {type: csv, write_mode: upsert}
`},
		{"non-integer batch size", `
name: r
source: {type: csv}
destination: {type: csv}
runtime: {batch_size: lots}
`},
		{"step without type", `
name: r
source: {type: csv}
destination: {type: csv}
transform:
  steps:
    - name: x
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sr.ValidateDocument(mustDoc(t, tt.text)); err == nil {
				t.Fatal("expected schema rejection")
			}
		})
	}
}

func TestSchemaRegistry_RegisterInvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", "#X: {a: int &"); err == nil {
		t.Fatal("expected compile error")
	}
}
