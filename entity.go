package jobservice

// Entity is the base embedded by every persisted record. Revision is the
// optimistic-concurrency counter: updates only apply when the stored revision
// matches, and bump it by one.
type Entity struct {
	Revision int `json:"revision"`
}

// NextRevision returns the revision an update must write.
func (e Entity) NextRevision() int { return e.Revision + 1 }
