package refframe

// Credit is a single attribution entry a TileSet or delivery output may
// be required to carry, keyed by a small integer id.
type Credit struct {
	ID     int
	Notice string
	URL    string
}

// BoundLayer describes an external bound-layer raster source a Delivery
// façade can reference from a synthesized, filtered config.
type BoundLayer struct {
	ID       string
	URL      string
	LodRange struct{ Min, Max uint8 }
	Credits  []int
}

// Registry is the read-only lookup service a TileSet or Delivery façade
// consults for reference frames, credits and bound layers. TileSet and
// Delivery depend on this interface, never on a concrete store directly.
type Registry interface {
	ReferenceFrame(id string) (*ReferenceFrame, error)
	Credits(ids []int) ([]Credit, error)
	BoundLayer(id string) (*BoundLayer, error)
}
