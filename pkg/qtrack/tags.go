package qtrack

// Reserved tag keys stamped on runs launched from projects.
const (
	TagUser        = "quill.user"
	TagSourceName  = "quill.source.name"
	TagSourceType  = "quill.source.type"
	TagEntryPoint  = "quill.project.entryPoint"
	TagParentRunID = "quill.parentRunId"
	TagGitBranch   = "quill.source.git.branch"
	TagGitRepoURL  = "quill.source.git.repoURL"
	TagBackend     = "quill.project.backend"
)

// SourceTypeProject marks runs whose source is a packaged project.
const SourceTypeProject = "PROJECT"
