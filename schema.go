package mcp

import (
	"encoding/json"
	"fmt"
)

// MustString enforces string representation for fields the wire format allows
// to be either a string or an integer, such as request IDs and progress
// tokens. Numeric input is converted to its decimal string form during
// unmarshaling; a JSON null becomes the empty string.
type MustString string

// Message is one wire envelope. Which fields are populated determines its
// kind:
//   - Request: ID and Method are set
//   - Notification: Method is set, no ID
//   - Response: ID and Result are set
//   - Error response: ID and Error are set
type Message struct {
	// JSONRPC must always be "2.0".
	JSONRPC string `json:"jsonrpc"`
	// ID correlates request-response pairs. Empty on notifications.
	ID MustString `json:"id,omitempty"`
	// Method is the RPC method name for requests and notifications.
	Method string `json:"method,omitempty"`
	// Params carries the method parameters, unparsed.
	Params json.RawMessage `json:"params,omitempty"`
	// Result carries the successful response payload, unparsed.
	Result json.RawMessage `json:"result,omitempty"`
	// Error carries the failure detail when the request failed.
	Error *Error `json:"error,omitempty"`
}

// Batch is an ordered sequence of envelopes transmitted as one transport
// frame (a JSON array). Members are processed independently and replies may
// arrive in any order, matched by member ID.
type Batch []Message

// Error is the wire-level error object attached to a failed response.
type Error struct {
	// Code indicates the error type, either one of the Code* constants or an
	// application-defined code outside the reserved range.
	Code int `json:"code"`

	// Message is a short description, limited to a single sentence.
	Message string `json:"message"`

	// Data contains optional structured detail supplied by the failing side.
	Data map[string]any `json:"data,omitempty"`
}

// Info identifies a client or server implementation by name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises which capability namespaces a server serves.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Logging   *LoggingCapability   `json:"logging,omitempty"`
}

// ClientCapabilities advertises optional client-side features.
type ClientCapabilities struct{}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability represents prompts-specific capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability represents logging-specific capabilities.
type LoggingCapability struct{}

// Tool describes a callable tool. InputSchema is a JSON Schema document
// defining the expected shape of CallToolParams.Arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource describes an addressable content resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parameterized family of resources through a
// URI template.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt defines a template for generating prompt messages with optional
// arguments.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument defines a single argument a prompt template accepts.
// Required indicates whether the argument must be provided.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage represents one rendered message of a prompt template.
type PromptMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Role represents the role in a conversation (user or assistant).
type Role string

// Role values used in prompt messages.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType represents the type of content in messages.
type ContentType string

// Content type markers.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

// Content represents a piece of tool or prompt output with its type.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`

	// For ContentTypeImage
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// For ContentTypeResource
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ResourceContents represents either text or blob resource contents.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"` // For text resources
	Blob     string `json:"blob,omitempty"` // For binary resources
}

// ParamsMeta contains optional metadata included with request parameters.
// A non-empty ProgressToken asks the serving side to emit progress
// notifications tagged with that token while the request runs.
type ParamsMeta struct {
	ProgressToken MustString `json:"progressToken"`
}

// ListToolsParams contains parameters for listing available tools.
type ListToolsParams struct {
	// Cursor is a pagination cursor from a previous ListTools call.
	// Empty string requests the first page.
	Cursor string `json:"cursor,omitempty"`

	Meta ParamsMeta `json:"_meta,omitempty"`
}

// ListToolsResult represents a list of tools returned by ListTools.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute.
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs.
	// Must satisfy the tool's InputSchema.
	Arguments json.RawMessage `json:"arguments,omitempty"`

	Meta ParamsMeta `json:"_meta,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation. IsError marks
// a handler-reported failure whose detail is in Content; protocol-level
// failures travel as wire error responses instead.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ListResourcesParams contains parameters for listing available resources.
type ListResourcesParams struct {
	Cursor string     `json:"cursor,omitempty"`
	Meta   ParamsMeta `json:"_meta,omitempty"`
}

// ListResourcesResult represents a list of resources returned by
// ListResources.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams contains parameters for reading a specific resource.
type ReadResourceParams struct {
	// URI is the unique identifier of the resource to read.
	URI string `json:"uri"`

	Meta ParamsMeta `json:"_meta,omitempty"`
}

// ReadResourceResult represents the result of a read resource request.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ListResourceTemplatesParams contains parameters for listing resource
// templates.
type ListResourceTemplatesParams struct {
	Cursor string     `json:"cursor,omitempty"`
	Meta   ParamsMeta `json:"_meta,omitempty"`
}

// ListResourceTemplatesResult represents the result of a list resource
// templates request.
type ListResourceTemplatesResult struct {
	Templates  []ResourceTemplate `json:"resourceTemplates"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// SubscribeResourceParams contains parameters for subscribing to updates of
// a resource.
type SubscribeResourceParams struct {
	// URI must match the URI used in ReadResource calls.
	URI string `json:"uri"`
}

// UnsubscribeResourceParams contains parameters for removing a resource
// subscription.
type UnsubscribeResourceParams struct {
	URI string `json:"uri"`
}

// ListPromptsParams contains parameters for listing available prompts.
type ListPromptsParams struct {
	Cursor string     `json:"cursor,omitempty"`
	Meta   ParamsMeta `json:"_meta,omitempty"`
}

// ListPromptsResult represents a list of prompts returned by ListPrompts.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptParams contains parameters for rendering a specific prompt.
type GetPromptParams struct {
	// Name is the unique identifier of the prompt to render.
	Name string `json:"name"`

	// Arguments must satisfy the required arguments declared by the prompt.
	Arguments map[string]string `json:"arguments,omitempty"`

	Meta ParamsMeta `json:"_meta,omitempty"`
}

// GetPromptResult represents the result of a prompt request.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ProgressParams represents the progress status of a long-running operation.
type ProgressParams struct {
	// ProgressToken identifies the operation this update relates to.
	ProgressToken MustString `json:"progressToken"`
	// Progress is the current progress value.
	Progress float64 `json:"progress"`
	// Total is the expected final value when known. When non-zero, completion
	// can be computed as Progress/Total.
	Total float64 `json:"total,omitempty"`
}

// LogLevel represents the severity level of streamed log messages.
type LogLevel int

// Log severity levels, ordered from least to most severe.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelNotice
	LogLevelWarning
	LogLevelError
	LogLevelCritical
	LogLevelAlert
	LogLevelEmergency
)

// LogParams represents the parameters of a streamed log message, and of a
// SetLogLevel request where only Level is meaningful.
type LogParams struct {
	// Level indicates the severity of the message.
	Level LogLevel `json:"level"`
	// Logger identifies the component that generated the message.
	Logger string `json:"logger,omitempty"`
	// Data contains the message content and any structured metadata.
	Data json.RawMessage `json:"data,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type cancelledParams struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

type resourceUpdatedParams struct {
	URI string `json:"uri"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version carried by every
	// envelope.
	JSONRPCVersion = "2.0"

	// MethodToolsList is the method name for retrieving the list of tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"
	// MethodResourcesRead is the method name for reading a resource's content.
	MethodResourcesRead = "resources/read"
	// MethodResourcesTemplatesList is the method name for listing resource templates.
	MethodResourcesTemplatesList = "resources/templates/list"
	// MethodResourcesSubscribe is the method name for subscribing to resource updates.
	MethodResourcesSubscribe = "resources/subscribe"
	// MethodResourcesUnsubscribe is the method name for removing a resource subscription.
	MethodResourcesUnsubscribe = "resources/unsubscribe"

	// MethodPromptsList is the method name for retrieving the list of prompts.
	MethodPromptsList = "prompts/list"
	// MethodPromptsGet is the method name for rendering a specific prompt.
	MethodPromptsGet = "prompts/get"

	// MethodLoggingSetLevel is the method name for setting the minimum
	// severity of streamed log messages.
	MethodLoggingSetLevel = "logging/setLevel"

	protocolVersion = "2025-03-26"

	methodInitialize = "initialize"
	methodPing       = "ping"

	methodNotificationsInitialized          = "notifications/initialized"
	methodNotificationsCancelled            = "notifications/cancelled"
	methodNotificationsProgress             = "notifications/progress"
	methodNotificationsMessage              = "notifications/message"
	methodNotificationsToolsListChanged     = "notifications/tools/list_changed"
	methodNotificationsResourcesListChanged = "notifications/resources/list_changed"
	methodNotificationsResourcesUpdated     = "notifications/resources/updated"
	methodNotificationsPromptsListChanged   = "notifications/prompts/list_changed"

	userCancelledReason = "User requested cancellation"
)

// Wire error codes. The -327xx block is reserved by JSON-RPC; the -320xx
// block carries protocol-specific conditions.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeToolNotFound     = -32000
	CodeResourceNotFound = -32001
	CodePromptNotFound   = -32002
	CodeNotInitialized   = -32003
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelNotice:
		return "notice"
	case LogLevelWarning:
		return "warning"
	case LogLevelError:
		return "error"
	case LogLevelCritical:
		return "critical"
	case LogLevelAlert:
		return "alert"
	case LogLevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler, emitting the level's wire name.
func (l LogLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON implements json.Unmarshaler, accepting a level's wire name.
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "debug":
		*l = LogLevelDebug
	case "info":
		*l = LogLevelInfo
	case "notice":
		*l = LogLevelNotice
	case "warning":
		*l = LogLevelWarning
	case "error":
		*l = LogLevelError
	case "critical":
		*l = LogLevelCritical
	case "alert":
		*l = LogLevelAlert
	case "emergency":
		*l = LogLevelEmergency
	default:
		return fmt.Errorf("unknown log level: %q", s)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting string, numeric, and
// null input and normalizing all of them to a string value.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case nil:
		*m = ""
	default:
		return fmt.Errorf("invalid type for id: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler, always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (e Error) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s", e.Code, e.Message)
}
