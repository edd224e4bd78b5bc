// AMF0 command invocation encoding/decoding, the shape HandleInvoke's
// "connect"/"createStream"/"publish"/"play" dispatch expects. No teacher
// file defines this type (it's referenced by the teacher's session code
// but missing from the retrieved tree), so it's built here directly on
// top of AMFDecodingStream/amf0EncodeOne following the usage pattern the
// teacher's HandleConnect/HandlePublish/RespondConnect etc. show: a
// command name, a transaction id, a command object, and named trailing
// arguments.

package rtmpcore

// Command is one decoded (or to-be-encoded) AMF0 command invocation, e.g.
// connect/createStream/publish/play/onStatus/_result.
type Command struct {
	Name      string
	Arguments map[string]*AMF0Value
}

// GetArg returns Arguments[name], or an undefined value if absent so
// callers can chain .GetString()/.GetInteger() without a nil check.
func (c *Command) GetArg(name string) *AMF0Value {
	if v, ok := c.Arguments[name]; ok {
		return v
	}
	undef := createAMF0Value(AMF0_TYPE_UNDEFINED)
	return &undef
}

// decodeCommand parses an AMF0 command invocation: string name, number
// transaction id, then the following values by position as "cmdObj",
// "streamName", "start", "duration" and "reset"; every value past those
// five is stored as "bool", so only the last of them is kept.
func decodeCommand(payload []byte) Command {
	s := AMFDecodingStream{buffer: payload}

	cmd := Command{Arguments: make(map[string]*AMF0Value)}

	if s.IsEnded() {
		return cmd
	}
	name := s.ReadOne()
	cmd.Name = name.GetString()

	if !s.IsEnded() {
		transId := s.ReadOne()
		cmd.Arguments["transId"] = &transId
	}

	// Positional argument naming matches what each handler in
	// connection.go looks up: HandleConnect wants "cmdObj", publish/play
	// want "streamName" (and optional start/duration numeric args the
	// teacher's HandlePlay ignores today). A flag that directly follows the
	// null command object, as in pause, lands in the "streamName" slot.
	argIndex := 0
	argNames := []string{"cmdObj", "streamName", "start", "duration", "reset"}
	for !s.IsEnded() {
		v := s.ReadOne()
		name := "bool"
		if argIndex < len(argNames) {
			name = argNames[argIndex]
		}
		cmd.Arguments[name] = &v
		argIndex++
	}

	return cmd
}

// Encode serializes c as an AMF0 command invocation payload.
func (c *Command) Encode() []byte {
	var out []byte

	nameVal := createAMF0Value(AMF0_TYPE_STRING)
	nameVal.str_val = c.Name
	out = append(out, amf0EncodeOne(nameVal)...)

	if transId, ok := c.Arguments["transId"]; ok {
		out = append(out, amf0EncodeOne(*transId)...)
	} else {
		zero := createAMF0Value(AMF0_TYPE_NUMBER)
		zero.SetIntegerVal(0)
		out = append(out, amf0EncodeOne(zero)...)
	}

	for _, key := range []string{"cmdObj", "info", "streamName"} {
		if v, ok := c.Arguments[key]; ok {
			out = append(out, amf0EncodeOne(*v)...)
		}
	}

	return out
}

func newStringValue(s string) AMF0Value {
	v := createAMF0Value(AMF0_TYPE_STRING)
	v.str_val = s
	return v
}

func newNumberValue(n int64) AMF0Value {
	v := createAMF0Value(AMF0_TYPE_NUMBER)
	v.SetIntegerVal(n)
	return v
}
