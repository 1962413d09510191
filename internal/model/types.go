package model

// Manifest is the JSON model description: graph metadata plus the ordered list of
// binary shards that concatenate into the serialized graph.
type Manifest struct {
	Format          string        `json:"format"`
	InputName       string        `json:"inputName,omitempty"`
	OutputName      string        `json:"outputName,omitempty"`
	InputShape      []int64       `json:"inputShape,omitempty"`
	OutputShape     []int64       `json:"outputShape,omitempty"`
	Activation      string        `json:"activation,omitempty"`
	WeightsManifest []WeightGroup `json:"weightsManifest"`
}

type WeightGroup struct {
	Paths []string `json:"paths"`
}

// Source is a fetched model ready to be deserialized.
type Source struct {
	URL      string
	Manifest Manifest
	Graph    []byte
}

// Metadata describes the bound graph of a loaded Server.
type Metadata struct {
	InputName     string  `json:"input_name"`
	OutputName    string  `json:"output_name"`
	InputShape    []int64 `json:"input_shape"`
	OutputShape   []int64 `json:"output_shape"`
	ChannelsFirst bool    `json:"channels_first"`
	Softmax       bool    `json:"softmax"`
}

const (
	FormatONNX        = "onnx"
	ActivationSoftmax = "softmax"
	ActivationNone    = "none"
)
