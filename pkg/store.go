package bump

// Store is the persistence layer for packages and the chain cursor.
// Reads are available directly; all writes go through a StoreTransaction.
// GetPackage returns a NotFound ErrorInfo when the id is unknown.
type Store interface {
	Begin() (StoreTransaction, error)

	GetPackage(id string) (*Package, error)
	ListActivePackages() ([]*Package, error)
	GetChainPos() (ChainPos, error)
}

// StoreTransaction is a Store within a database transaction. Commit or
// Rollback must be called; Rollback after Commit is a no-op so the
// deferred-rollback idiom is safe.
type StoreTransaction interface {
	Commit() error
	Rollback() error

	GetPackage(id string) (*Package, error)
	ListActivePackages() ([]*Package, error)
	CreatePackage(p *Package) error
	UpdatePackage(p *Package) error

	GetChainPos() (ChainPos, error)
	UpdateChainPos(pos ChainPos) error
}
