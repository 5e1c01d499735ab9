package command

// Reserved response command IDs for the two system-level responses that
// are not looked up in the dictionary: an unrecognized incoming command id,
// or a parameter decode failure. Real command IDs are expected to be dense
// and small (VLQ-friendly), so the top of the uint32 space is free for
// these.
const (
	RespUnknownCommand uint32 = 0xfffffffe
	RespParseError     uint32 = 0xffffffff
)

// EncodeUnknownCommand builds the unknown_command(id) response of spec.md
// §4.2.
func EncodeUnknownCommand(id uint32) []byte {
	buf := putVLQ(nil, RespUnknownCommand)
	return putVLQ(buf, id)
}

// EncodeParseError builds the parse_error response of spec.md §4.2/§7.
func EncodeParseError() []byte {
	return putVLQ(nil, RespParseError)
}

// Dispatcher decodes a packed stream of commands against a Dictionary and
// invokes each command's handler in order (spec.md §4.2: "Multiple
// commands may be packed in one frame; they are executed in order").
type Dispatcher struct {
	Dict *Dictionary
}

// Dispatch decodes and runs every command in content, collecting each
// handler's response (if any). A decode failure mid-stream stops further
// decoding of this frame's remaining bytes and appends a parse_error
// response; commands already dispatched earlier in the same frame have
// already taken effect and are not rolled back, matching the "handlers
// never unwind" propagation policy of spec.md §7. An unknown command id
// likewise ends decoding of the frame after its unknown_command response.
func (d *Dispatcher) Dispatch(content []byte) [][]byte {
	var responses [][]byte
	for len(content) > 0 {
		id, n, err := getVLQ(content)
		if err != nil {
			responses = append(responses, EncodeParseError())
			return responses
		}
		content = content[n:]

		entry, ok := d.Dict.Lookup(id)
		if !ok {
			responses = append(responses, EncodeUnknownCommand(id))
			return responses
		}

		args := make([]Value, len(entry.Params))
		for i, kind := range entry.Params {
			var used int
			var v Value
			v.Kind = kind
			switch kind {
			case KindU32:
				v.U32, used, err = getVLQ(content)
			case KindI32:
				v.I32, used, err = getI32(content)
			case KindString:
				v.Str, used, err = getString(content)
			case KindByteArray:
				v.Bytes, used, err = getByteArray(content)
			}
			if err != nil {
				responses = append(responses, EncodeParseError())
				return responses
			}
			content = content[used:]
			args[i] = v
		}

		if resp := entry.Handle(args); resp != nil {
			responses = append(responses, resp)
		}
	}
	return responses
}
