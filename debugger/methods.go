package debugger

// Backend RPC methods.
const (
	MethodConnect              = "debugger/connect"
	MethodDisconnect           = "debugger/disconnect"
	MethodEvents               = "debugger/events"
	MethodAddBreakpoint        = "debugger/breakpoints/add"
	MethodDeleteBreakpoint     = "debugger/breakpoints/delete"
	MethodDeleteAllBreakpoints = "debugger/breakpoints/deleteAll"
	MethodStepInto             = "debugger/stepInto"
	MethodStepOver             = "debugger/stepOver"
	MethodStepOut              = "debugger/stepOut"
	MethodResume               = "debugger/resume"
	MethodEvaluate             = "debugger/evaluate"
	MethodGetValue             = "debugger/getValue"
	MethodStackFrameDump       = "debugger/stackFrameDump"
	MethodSetValue             = "debugger/setValue"
)

type connectParams struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// connectResult is what the backend answers to debugger/connect.
type connectResult struct {
	ID        string `json:"id"`
	VMName    string `json:"vmName,omitempty"`
	VMVersion string `json:"vmVersion,omitempty"`
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type breakpointParams struct {
	SessionID string       `json:"sessionId"`
	Location  wireLocation `json:"location"`
	FilePath  string       `json:"filePath,omitempty"`
	Enabled   bool         `json:"enabled"`
}

type evaluateParams struct {
	SessionID  string `json:"sessionId"`
	Expression string `json:"expression"`
}

type getValueParams struct {
	SessionID string `json:"sessionId"`
	Variable  string `json:"variable"`
}

type setValueParams struct {
	SessionID string   `json:"sessionId"`
	Path      []string `json:"path"`
	Value     string   `json:"value"`
}
