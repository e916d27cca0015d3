package client

const (
	msgKernelInfoRequest = "kernel_info_request"
	msgKernelInfoReply   = "kernel_info_reply"
	msgExecuteRequest    = "execute_request"
	msgExecuteReply      = "execute_reply"
	msgInterruptRequest  = "interrupt_request"
	msgInterruptReply    = "interrupt_reply"
	msgStream            = "stream"
	msgExecuteResult     = "execute_result"
	msgDisplayData       = "display_data"
	msgError             = "error"
	msgStatus            = "status"
)

const (
	stateIdle = "idle"

	replyStatusOK    = "ok"
	replyStatusError = "error"

	mimeTextPlain = "text/plain"
)

type executeRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

type executeReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	EName          string   `json:"ename"`
	EValue         string   `json:"evalue"`
	Traceback      []string `json:"traceback"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type dataContent struct {
	Data           map[string]any `json:"data"`
	ExecutionCount int            `json:"execution_count"`
}

type errorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

type interruptReply struct {
	Status string `json:"status"`
}

// LanguageInfo describes the kernel's language.
type LanguageInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// KernelInfo is the kernel_info_reply received during the handshake.
type KernelInfo struct {
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	Banner                string       `json:"banner"`
	LanguageInfo          LanguageInfo `json:"language_info"`
}
