package memory

import (
	"sort"

	"github.com/google/uuid"

	"catalogcore/pkg/domain"
)

// Snapshot is the JSON-serializable image of the full catalog state used by
// the durable store implementations.
type Snapshot struct {
	MetadataTypes []domain.MetadataTypeRecord `json:"metadata_types"`
	Products      []domain.ProductRecord      `json:"products"`
	Datasets      []domain.DatasetRecord      `json:"datasets"`
	Sources       []SourceEdge                `json:"sources"`
	Locations     []LocationEntry             `json:"locations"`
	FieldIndexes  []string                    `json:"field_indexes"`
	NextTypeID    int                         `json:"next_type_id"`
	NextProductID int                         `json:"next_product_id"`
}

// SourceEdge is one classifier-labelled provenance edge.
type SourceEdge struct {
	DatasetID  uuid.UUID `json:"dataset_id"`
	Classifier string    `json:"classifier"`
	SourceID   uuid.UUID `json:"source_id"`
}

// LocationEntry is one registered storage location.
type LocationEntry struct {
	DatasetID uuid.UUID `json:"dataset_id"`
	URIs      []string  `json:"uris"`
}

// ExportState captures the committed state as a snapshot.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		NextTypeID:    s.state.nextTypeID,
		NextProductID: s.state.nextProductID,
	}
	for _, rec := range s.state.metadataTypes {
		snap.MetadataTypes = append(snap.MetadataTypes, cloneMetadataType(rec))
	}
	sort.Slice(snap.MetadataTypes, func(i, j int) bool { return snap.MetadataTypes[i].ID < snap.MetadataTypes[j].ID })
	for _, rec := range s.state.products {
		snap.Products = append(snap.Products, cloneProduct(rec))
	}
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].ID < snap.Products[j].ID })
	for _, rec := range s.state.datasets {
		snap.Datasets = append(snap.Datasets, cloneDataset(rec))
	}
	sort.Slice(snap.Datasets, func(i, j int) bool { return snap.Datasets[i].ID.String() < snap.Datasets[j].ID.String() })
	for datasetID, edges := range s.state.sources {
		for classifier, sourceID := range edges {
			snap.Sources = append(snap.Sources, SourceEdge{DatasetID: datasetID, Classifier: classifier, SourceID: sourceID})
		}
	}
	sort.Slice(snap.Sources, func(i, j int) bool {
		if snap.Sources[i].DatasetID != snap.Sources[j].DatasetID {
			return snap.Sources[i].DatasetID.String() < snap.Sources[j].DatasetID.String()
		}
		return snap.Sources[i].Classifier < snap.Sources[j].Classifier
	})
	for datasetID, uris := range s.state.locations {
		snap.Locations = append(snap.Locations, LocationEntry{DatasetID: datasetID, URIs: append([]string(nil), uris...)})
	}
	sort.Slice(snap.Locations, func(i, j int) bool { return snap.Locations[i].DatasetID.String() < snap.Locations[j].DatasetID.String() })
	for key := range s.state.fieldIndexes {
		snap.FieldIndexes = append(snap.FieldIndexes, key)
	}
	sort.Strings(snap.FieldIndexes)
	return snap
}

// ImportState replaces the committed state with the snapshot's contents.
func (s *Store) ImportState(snap Snapshot) {
	st := newState()
	if snap.NextTypeID > 0 {
		st.nextTypeID = snap.NextTypeID
	}
	if snap.NextProductID > 0 {
		st.nextProductID = snap.NextProductID
	}
	for _, rec := range snap.MetadataTypes {
		st.metadataTypes[rec.ID] = cloneMetadataType(rec)
		if rec.ID >= st.nextTypeID {
			st.nextTypeID = rec.ID + 1
		}
	}
	for _, rec := range snap.Products {
		st.products[rec.ID] = cloneProduct(rec)
		if rec.ID >= st.nextProductID {
			st.nextProductID = rec.ID + 1
		}
	}
	for _, rec := range snap.Datasets {
		st.datasets[rec.ID] = cloneDataset(rec)
	}
	for _, edge := range snap.Sources {
		edges, ok := st.sources[edge.DatasetID]
		if !ok {
			edges = make(map[string]uuid.UUID)
			st.sources[edge.DatasetID] = edges
		}
		edges[edge.Classifier] = edge.SourceID
	}
	for _, entry := range snap.Locations {
		st.locations[entry.DatasetID] = append([]string(nil), entry.URIs...)
	}
	for _, key := range snap.FieldIndexes {
		st.fieldIndexes[key] = true
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
