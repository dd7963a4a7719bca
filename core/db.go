package core

// DBOrdering is a repository-agnostic ordering request. Field names the
// storage backend does not recognize are ignored.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
