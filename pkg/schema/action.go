package schema

import (
	"encoding/json"
	"fmt"
)

// ToolType tags an action as read-only or state-changing for the agent tool surface.
type ToolType string

const (
	ToolTypeRead  ToolType = "read"
	ToolTypeWrite ToolType = "write"
)

// ParamType enumerates the accepted parameter types.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
	ParamAny     ParamType = "any"
)

// ParamSpec describes one caller argument of an action.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	MinLength   *int      `json:"min_length,omitempty"`
	MaxLength   *int      `json:"max_length,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
}

// ReturnSpec documents the shape of a successful return value.
type ReturnSpec struct {
	Description string               `json:"description,omitempty"`
	Fields      map[string]ParamSpec `json:"fields,omitempty"`
}

// ActionDefinition is the JSON-serializable unit of app behavior.
// It is immutable once compiled; the engine only borrows it per call.
type ActionDefinition struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Params      map[string]ParamSpec `json:"params,omitempty"`
	Returns     *ReturnSpec          `json:"returns,omitempty"`
	ToolType    ToolType             `json:"tool_type,omitempty"`
	Logic       Blocks               `json:"logic"`
}

// BlockType is the discriminator of the LogicBlock union.
type BlockType string

const (
	BlockValidate BlockType = "validate"
	BlockUpdate   BlockType = "update"
	BlockNotify   BlockType = "notify"
	BlockReturn   BlockType = "return"
	BlockError    BlockType = "error"
	BlockBranch   BlockType = "branch"
	BlockLoop     BlockType = "loop"
)

// UpdateOp enumerates the Update block operations.
type UpdateOp string

const (
	OpSet      UpdateOp = "set"
	OpAdd      UpdateOp = "add"
	OpSubtract UpdateOp = "subtract"
	OpAppend   UpdateOp = "append"
	OpRemove   UpdateOp = "remove"
)

// Block is one directive of the action language. The set of implementations
// is closed: only the block types declared in this package satisfy it.
type Block interface {
	Type() BlockType
	isBlock()
}

// ValidateBlock stops the call with ValidationFailed when Condition is false.
type ValidateBlock struct {
	Condition    string `json:"condition"`
	ErrorMessage string `json:"error_message"`
}

// UpdateBlock buffers a state mutation at Target.
type UpdateBlock struct {
	Target    string   `json:"target"`
	Operation UpdateOp `json:"operation"`
	Value     string   `json:"value,omitempty"`
}

// NotifyBlock queues a notification for delivery after a successful return.
type NotifyBlock struct {
	To      string            `json:"to"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// ReturnBlock commits buffered mutations and ends the call successfully.
type ReturnBlock struct {
	Value map[string]string `json:"value,omitempty"`
}

// ErrorBlock ends the call with ValidationFailed and the rendered message.
type ErrorBlock struct {
	Message string `json:"message"`
}

// BranchBlock runs Then or Else depending on a boolean condition.
type BranchBlock struct {
	Condition string `json:"condition"`
	Then      Blocks `json:"then,omitempty"`
	Else      Blocks `json:"else,omitempty"`
}

// LoopBlock runs Body once per element of Collection with the element bound to As.
type LoopBlock struct {
	Collection string `json:"collection"`
	As         string `json:"as"`
	Body       Blocks `json:"body"`
}

func (*ValidateBlock) Type() BlockType { return BlockValidate }
func (*UpdateBlock) Type() BlockType   { return BlockUpdate }
func (*NotifyBlock) Type() BlockType   { return BlockNotify }
func (*ReturnBlock) Type() BlockType   { return BlockReturn }
func (*ErrorBlock) Type() BlockType    { return BlockError }
func (*BranchBlock) Type() BlockType   { return BlockBranch }
func (*LoopBlock) Type() BlockType     { return BlockLoop }

func (*ValidateBlock) isBlock() {}
func (*UpdateBlock) isBlock()   {}
func (*NotifyBlock) isBlock()   {}
func (*ReturnBlock) isBlock()   {}
func (*ErrorBlock) isBlock()    {}
func (*BranchBlock) isBlock()   {}
func (*LoopBlock) isBlock()     {}

// IsTerminal reports whether a block always ends the call.
func IsTerminal(b Block) bool {
	switch b.(type) {
	case *ReturnBlock, *ErrorBlock:
		return true
	default:
		return false
	}
}

// Blocks is an ordered block sequence with tagged-union JSON encoding.
type Blocks []Block

// UnmarshalJSON decodes each element by its "type" discriminator.
func (bs *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Blocks, 0, len(raws))
	for i, raw := range raws {
		b, err := DecodeBlock(raw)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, b)
	}
	*bs = out
	return nil
}

// DecodeBlock decodes a single tagged block.
func DecodeBlock(raw []byte) (Block, error) {
	var head struct {
		Type BlockType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var b Block
	switch head.Type {
	case BlockValidate:
		b = &ValidateBlock{}
	case BlockUpdate:
		b = &UpdateBlock{}
	case BlockNotify:
		b = &NotifyBlock{}
	case BlockReturn:
		b = &ReturnBlock{}
	case BlockError:
		b = &ErrorBlock{}
	case BlockBranch:
		b = &BranchBlock{}
	case BlockLoop:
		var lb struct {
			LoopBlock
			ItemBinding string `json:"item_binding"`
		}
		if err := json.Unmarshal(raw, &lb); err != nil {
			return nil, err
		}
		if lb.As == "" {
			lb.As = lb.ItemBinding
		}
		loop := lb.LoopBlock
		return &loop, nil
	case "":
		return nil, NewError(ErrKindMalformedAst, "block is missing its type")
	default:
		return nil, NewErrorf(ErrKindMalformedAst, "unknown block type %q", head.Type)
	}

	if err := json.Unmarshal(raw, b); err != nil {
		return nil, err
	}
	return b, nil
}

// MarshalJSON encodes each block with its "type" discriminator.
func (bs Blocks) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(bs))
	for _, b := range bs {
		raw, err := EncodeBlock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// EncodeBlock encodes a single block with its "type" discriminator.
func EncodeBlock(b Block) ([]byte, error) {
	if b == nil {
		return nil, NewError(ErrKindMalformedAst, "nil block")
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(b.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}
