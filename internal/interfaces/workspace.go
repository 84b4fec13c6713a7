package interfaces

// WorkspaceStore provisions and reclaims per-job workspace directories backed
// by copy-on-write clones of registered repositories.
type WorkspaceStore interface {
	Clone(repoName, jobID string) (string, error)
	Remove(path string) error
	Exists(path string) bool
}

// StagingArea holds uploads accepted before a workspace exists and later
// materializes them into the workspace's files/ subtree.
type StagingArea interface {
	StagingPath(jobID string) string
	Accept(jobID, originalName string, data []byte) (string, error)
	List(jobID string) ([]string, error)
	Materialize(jobID, workspacePath string) (int, error)
	Cleanup(jobID string) error
}

// RepositoryRegistry resolves logical repository names to on-disk clones.
type RepositoryRegistry interface {
	Lookup(name string) (string, error)
	List() ([]string, error)
}
