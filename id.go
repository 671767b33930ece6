package jobq

import "github.com/toolplane/jobq/id"

// ID is the primary identifier type for all jobq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
