package zocp

import (
	"github.com/google/uuid"
)

// Capability is a node's self description: a JSON shaped tree of
// parameter records and nested objects. Keys starting with an underscore
// are reserved for node metadata (_name, _location, _orientation, _scale,
// _matrix); the "objects" key holds named sub objects, each again a map
// of records.
//
// A parameter record is itself a map with at least "value", "typeHint"
// and "access". Bounded parameters carry "min", "max" and "step";
// emitters carry a "subscribers" list of [peer, receiver] pairs.
type Capability map[string]interface{}

// typeHint values written by the Register methods.
const (
	HintInt     = "int"
	HintFloat   = "float"
	HintPercent = "percent"
	HintBool    = "bool"
	HintString  = "string"
	HintVec2f   = "vec2f"
	HintVec3f   = "vec3f"
	HintVec4f   = "vec4f"
)

// Value returns the current value of a root level parameter record.
func (c Capability) Value(name string) (interface{}, bool) {
	rec, ok := c[name].(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := rec["value"]
	return v, ok
}

// merge folds src into dst recursively: maps merge, everything else is
// overwritten whole, lists included. Returns dst, allocating it when nil.
func merge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for key, val := range src {
		srcMap, srcOk := val.(map[string]interface{})
		dstMap, dstOk := dst[key].(map[string]interface{})
		if srcOk && dstOk {
			dst[key] = merge(dstMap, srcMap)
			continue
		}
		dst[key] = val
	}
	return dst
}

// A ParamOption adds an optional field to a parameter record at
// registration time.
type ParamOption func(rec map[string]interface{})

// Min sets the record's minimal value.
func Min(v interface{}) ParamOption {
	return func(rec map[string]interface{}) { rec["min"] = v }
}

// Max sets the record's maximal value.
func Max(v interface{}) ParamOption {
	return func(rec map[string]interface{}) { rec["max"] = v }
}

// Step sets the record's increment size.
func Step(v interface{}) ParamOption {
	return func(rec map[string]interface{}) { rec["step"] = v }
}

// SetCapability replaces the node's whole capability tree and announces
// the change.
func (n *Node) SetCapability(c Capability) error {
	n.capability = c
	return n.notify(c, uuid.Nil, "")
}

// Capability returns the live capability tree. The tree belongs to the
// event loop; read it from the loop goroutine, or through Do, while the
// node runs.
func (n *Node) Capability() Capability {
	return n.capability
}

// Value returns the current value of a root level parameter.
func (n *Node) Value(name string) (interface{}, bool) {
	return n.capability.Value(name)
}

// SetNodeName sets the node's name in its capability tree.
func (n *Node) SetNodeName(name string) error {
	n.capability["_name"] = name
	return n.notify(Capability{"_name": name}, uuid.Nil, "")
}

// NodeName returns the node's name from its capability tree.
func (n *Node) NodeName() string {
	name, _ := n.capability["_name"].(string)
	return name
}

// SetNodeLocation sets the node's position in the scene.
func (n *Node) SetNodeLocation(location [3]float64) error {
	n.capability["_location"] = location[:]
	return n.notify(Capability{"_location": location[:]}, uuid.Nil, "")
}

// SetNodeOrientation sets the node's orientation in the scene.
func (n *Node) SetNodeOrientation(orientation [3]float64) error {
	n.capability["_orientation"] = orientation[:]
	return n.notify(Capability{"_orientation": orientation[:]}, uuid.Nil, "")
}

// SetNodeScale sets the node's scale in the scene.
func (n *Node) SetNodeScale(scale [3]float64) error {
	n.capability["_scale"] = scale[:]
	return n.notify(Capability{"_scale": scale[:]}, uuid.Nil, "")
}

// SetNodeMatrix sets the node's transform matrix in the scene.
func (n *Node) SetNodeMatrix(matrix [4][4]float64) error {
	rows := make([]interface{}, len(matrix))
	for i, row := range matrix {
		rows[i] = row[:]
	}
	n.capability["_matrix"] = rows
	return n.notify(Capability{"_matrix": rows}, uuid.Nil, "")
}

// SetObject moves the registration cursor to the named sub object,
// creating it under "objects" when needed, and records its type.
// Until the cursor moves again every Register call writes below that
// object and change announcements are rooted accordingly. An empty name
// moves the cursor back to the tree root.
func (n *Node) SetObject(name, typ string) {
	if name == "" {
		n.curObjKeys = nil
		return
	}

	objects, ok := n.capability["objects"].(map[string]interface{})
	if !ok {
		objects = make(map[string]interface{})
		n.capability["objects"] = objects
	}
	obj, ok := objects[name].(map[string]interface{})
	if !ok {
		obj = make(map[string]interface{})
		objects[name] = obj
	}
	obj["type"] = typ

	n.curObjKeys = []string{"objects", name}
}

// currentObject resolves the cursor to the map registrations write into,
// creating the path as needed.
func (n *Node) currentObject() map[string]interface{} {
	cur := map[string]interface{}(n.capability)
	for _, key := range n.curObjKeys {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[key] = next
		}
		cur = next
	}
	return cur
}

// RegisterInt registers an integer parameter on the current object.
//
// Name is how peers refer to the parameter. Access is a string of flag
// characters: 'r' readable, 'w' writable, 'e' signal emitter, 's' signal
// sensor. Bounds go in through Min, Max and Step.
func (n *Node) RegisterInt(name string, value int, access string, opts ...ParamOption) error {
	return n.register(name, HintInt, value, access, opts)
}

// RegisterFloat registers a float parameter on the current object.
func (n *Node) RegisterFloat(name string, value float64, access string, opts ...ParamOption) error {
	return n.register(name, HintFloat, value, access, opts)
}

// RegisterPercent registers a percentage parameter on the current object.
func (n *Node) RegisterPercent(name string, value float64, access string, opts ...ParamOption) error {
	return n.register(name, HintPercent, value, access, opts)
}

// RegisterBool registers a boolean parameter on the current object.
func (n *Node) RegisterBool(name string, value bool, access string) error {
	return n.register(name, HintBool, value, access, nil)
}

// RegisterString registers a string parameter on the current object.
func (n *Node) RegisterString(name string, value string, access string) error {
	return n.register(name, HintString, value, access, nil)
}

// RegisterVec2f registers a two dimensional vector parameter on the
// current object.
func (n *Node) RegisterVec2f(name string, value [2]float64, access string, opts ...ParamOption) error {
	return n.register(name, HintVec2f, value[:], access, opts)
}

// RegisterVec3f registers a three dimensional vector parameter on the
// current object.
func (n *Node) RegisterVec3f(name string, value [3]float64, access string, opts ...ParamOption) error {
	return n.register(name, HintVec3f, value[:], access, opts)
}

// RegisterVec4f registers a four dimensional vector parameter on the
// current object.
func (n *Node) RegisterVec4f(name string, value [4]float64, access string, opts ...ParamOption) error {
	return n.register(name, HintVec4f, value[:], access, opts)
}

func (n *Node) register(name, hint string, value interface{}, access string, opts []ParamOption) error {
	rec := map[string]interface{}{
		"value":       value,
		"typeHint":    hint,
		"access":      access,
		"subscribers": []interface{}{},
	}
	for _, opt := range opts {
		opt(rec)
	}
	n.currentObject()[name] = rec

	return n.notify(Capability{name: rec}, uuid.Nil, "")
}
