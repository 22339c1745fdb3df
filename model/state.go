package model

import "time"

// GcNamespaceState records when a namespace was last swept.
type GcNamespaceState struct {
	ID       string    `json:"id"`
	LastTime time.Time `json:"lastTime"`
}

// GcState is the cluster wide garbage collection state.
type GcState struct {
	// LastImportBlobID is the ingestion watermark, every blob up to it has been queued for a check
	LastImportBlobID BlobID             `json:"lastImportBlobId"`
	Namespaces       []GcNamespaceState `json:"namespaces"`
	Reset            bool               `json:"reset"`
}

// DoReset restarts ingestion from the first blob and forgets the sweep history.
func (s *GcState) DoReset() {
	s.LastImportBlobID = NilBlobID
	s.Namespaces = nil
	s.Reset = false
}

func (s *GcState) FindNamespace(id string) *GcNamespaceState {
	for i := range s.Namespaces {
		if s.Namespaces[i].ID == id {
			return &s.Namespaces[i]
		}
	}

	return nil
}

func (s *GcState) FindOrAddNamespace(id string) *GcNamespaceState {
	if ns := s.FindNamespace(id); ns != nil {
		return ns
	}

	s.Namespaces = append(s.Namespaces, GcNamespaceState{ID: id})

	return &s.Namespaces[len(s.Namespaces)-1]
}

// LengthScanState is the cluster wide length scanner state.
type LengthScanState struct {
	LastBlobID BlobID `json:"lastBlobId"`
	Reset      bool   `json:"reset"`
}

func (s *LengthScanState) DoReset() {
	s.LastBlobID = NilBlobID
	s.Reset = false
}
