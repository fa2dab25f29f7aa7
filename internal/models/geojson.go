package models

// FeatureCollection is the catalog source document. Properties stay untyped because the
// upstream export mixes strings and numbers for the same column.
type FeatureCollection struct {
	Type     string    `json:"type" bson:"type"`
	Features []Feature `json:"features" bson:"features"`
}

type Feature struct {
	Type       string         `json:"type" bson:"type"`
	Properties map[string]any `json:"properties" bson:"properties"`
	Geometry   Geometry       `json:"geometry" bson:"geometry"`
}

type Geometry struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}
