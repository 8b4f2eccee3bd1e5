package filesystem

// Argument structs and their JSON schemas, one pair per tool. The schemas
// are what the registry validates call arguments against; the structs are
// what the handlers decode into, so the two must stay in step.

type ReadFileArgs struct {
	Path string `json:"path"`
}

var readFileSchema = []byte(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"}
  },
  "required": ["path"]
}`)

type ReadMultipleFilesArgs struct {
	Paths []string `json:"paths"`
}

var readMultipleFilesSchema = []byte(`{
  "type": "object",
  "properties": {
    "paths": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["paths"]
}`)

type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

var writeFileSchema = []byte(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "content": {"type": "string"}
  },
  "required": ["path", "content"]
}`)

type EditFileArgs struct {
	Path   string          `json:"path"`
	Edits  []EditOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

// EditOperation is one exact-text replacement within an edit_file call.
type EditOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

var editFileSchema = []byte(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "edits": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "oldText": {"type": "string"},
          "newText": {"type": "string"}
        },
        "required": ["oldText", "newText"]
      }
    },
    "dryRun": {"type": "boolean"}
  },
  "required": ["path", "edits"]
}`)

type CreateDirectoryArgs struct {
	Path string `json:"path"`
}

var createDirectorySchema = pathOnlySchema

type ListDirectoryArgs struct {
	Path string `json:"path"`
}

var listDirectorySchema = pathOnlySchema

type DirectoryTreeArgs struct {
	Path string `json:"path"`
}

var directoryTreeSchema = pathOnlySchema

type MoveFileArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

var moveFileSchema = []byte(`{
  "type": "object",
  "properties": {
    "source": {"type": "string"},
    "destination": {"type": "string"}
  },
  "required": ["source", "destination"]
}`)

type SearchFilesArgs struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern"`
	Exclude []string `json:"excludePatterns"`
}

var searchFilesSchema = []byte(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "pattern": {"type": "string"},
    "excludePatterns": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["path", "pattern"]
}`)

type GetFileInfoArgs struct {
	Path string `json:"path"`
}

var getFileInfoSchema = pathOnlySchema

// pathOnlySchema covers the tools whose only argument is a required path.
var pathOnlySchema = []byte(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"}
  },
  "required": ["path"]
}`)

// list_allowed_directories takes no arguments.
var listAllowedDirectoriesSchema = []byte(`{
  "type": "object",
  "properties": {}
}`)
