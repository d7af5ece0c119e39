// Package message assembles outbound frames from a declarative MessageStructure
// and maps received frames back onto the same structure.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"openfms/framekit/internal/codec"
	"openfms/framekit/internal/metrics"
	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/script"
)

// ElementLayout locates one element inside a built frame
type ElementLayout struct {
	ElementID string               `json:"element_id"`
	Name      string               `json:"name"`
	Kind      protocol.ElementKind `json:"kind"`
	Offset    int                  `json:"offset"`
	Size      int                  `json:"size"`
	Bytes     protocol.HexBytes    `json:"bytes"`
}

// BuildResult is a finished frame plus its per-element breakdown
type BuildResult struct {
	Data     protocol.HexBytes `json:"data"`
	Elements []ElementLayout   `json:"elements"`
}

// Builder turns structures and bindings into frames. A Builder is safe for
// concurrent use; its only side effects are transform script calls.
type Builder struct {
	exec    script.Executor
	log     zerolog.Logger
	metrics *metrics.Metrics

	TransformTimeout time.Duration
}

// NewBuilder creates a builder. exec may be nil, in which case every transform
// falls back to the untransformed value.
func NewBuilder(exec script.Executor, log zerolog.Logger, m *metrics.Metrics) *Builder {
	return &Builder{
		exec:             exec,
		log:              log.With().Str("component", "builder").Logger(),
		metrics:          m,
		TransformTimeout: script.DefaultTimeout,
	}
}

// Build runs the four build phases: raw element bytes, LENGTH values, CHECKSUM
// values, then assembly. Any error rejects the whole frame.
func (b *Builder) Build(ctx context.Context, s protocol.MessageStructure, opts protocol.BuildOptions) (res *BuildResult, err error) {
	defer func() { b.metrics.RecordBuild(err == nil) }()

	order := structureOrder(s)
	parts := make([][]byte, len(s.Elements))
	index := make(map[string]int, len(s.Elements))

	for i, el := range s.Elements {
		index[el.ID] = i
		part, err := b.raw(ctx, el, order, opts)
		if err != nil {
			return nil, err
		}
		parts[i] = part
	}

	for i, el := range s.Elements {
		lc, ok := el.Config.(protocol.LengthConfig)
		if !ok {
			continue
		}
		total := lc.Adjustment
		for _, id := range lc.IncludeElementIDs {
			j, ok := index[id]
			if !ok {
				b.log.Warn().Str("element", el.ID).Str("ref", id).Msg("LENGTH references unknown element, counting 0")
				continue
			}
			total += len(parts[j])
		}
		enc, err := encodeLength(total, len(parts[i]), order)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", el.ID, err)
		}
		parts[i] = enc
	}

	for i, el := range s.Elements {
		cc, ok := el.Config.(protocol.ChecksumConfig)
		if !ok {
			continue
		}
		var data []byte
		for _, id := range cc.IncludeElementIDs {
			j, ok := index[id]
			if !ok {
				b.log.Warn().Str("element", el.ID).Str("ref", id).Msg("CHECKSUM references unknown element, skipping")
				continue
			}
			data = append(data, parts[j]...)
		}
		sum, err := codec.Checksum(cc.Algorithm, data)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w: %v", el.ID, ErrInvalidValue, err)
		}
		parts[i] = sum
	}

	res = &BuildResult{Elements: make([]ElementLayout, 0, len(s.Elements))}
	for i, el := range s.Elements {
		if n, ok := el.Size.Fixed(); ok && n != len(parts[i]) {
			return nil, fmt.Errorf("element %s: %w: declared %d bytes, produced %d", el.ID, ErrInvalidValue, n, len(parts[i]))
		}
		res.Elements = append(res.Elements, ElementLayout{
			ElementID: el.ID,
			Name:      el.Name,
			Kind:      el.Config.Kind(),
			Offset:    len(res.Data),
			Size:      len(parts[i]),
			Bytes:     parts[i],
		})
		res.Data = append(res.Data, parts[i]...)
	}
	return res, nil
}

// raw computes an element's phase-one bytes. LENGTH and CHECKSUM get zeroed
// placeholders of their final width.
func (b *Builder) raw(ctx context.Context, el protocol.MessageElement, order protocol.ByteOrder, opts protocol.BuildOptions) ([]byte, error) {
	switch cfg := el.Config.(type) {
	case protocol.StaticConfig:
		return append([]byte(nil), cfg.Value...), nil

	case protocol.AddressConfig:
		v, err := b.value(ctx, el, opts)
		if err != nil {
			return nil, err
		}
		if cfg.Max > cfg.Min {
			if n, nerr := toNumber(unwrapStatic(v)); nerr == nil && (n < cfg.Min || n > cfg.Max) {
				b.log.Warn().Str("element", el.ID).Float64("value", n).
					Float64("min", cfg.Min).Float64("max", cfg.Max).Msg("Address outside configured range")
			}
		}
		return encodeBound(el, v, cfg.DataType, order)

	case protocol.FieldConfig:
		v, err := b.value(ctx, el, opts)
		if err != nil {
			return nil, err
		}
		return encodeBound(el, v, cfg.DataType, order)

	case protocol.LengthConfig:
		width := 1
		if n, ok := el.Size.Fixed(); ok {
			width = n
		}
		if width < 1 || width > 8 {
			return nil, fmt.Errorf("element %s: %w: LENGTH width %d", el.ID, ErrInvalidValue, width)
		}
		return make([]byte, width), nil

	case protocol.ChecksumConfig:
		return make([]byte, codec.ChecksumWidth(cfg.Algorithm)), nil

	case protocol.PayloadConfig:
		p := opts.Payload
		if len(p) < cfg.MinSize || (cfg.MaxSize > 0 && len(p) > cfg.MaxSize) {
			return nil, fmt.Errorf("element %s: %w: payload is %d bytes, allowed %d..%d",
				el.ID, ErrInvalidValue, len(p), cfg.MinSize, cfg.MaxSize)
		}
		return append([]byte(nil), p...), nil

	case protocol.PaddingConfig:
		return filled(el, cfg.FillByte)

	case protocol.ReservedConfig:
		return filled(el, cfg.FillByte)

	case nil:
		return nil, fmt.Errorf("element %s: %w: no config", el.ID, ErrUnknownElement)
	default:
		return nil, fmt.Errorf("element %s: %w: %T", el.ID, ErrUnknownElement, cfg)
	}
}

// staticValue marks a value that came from a static binding
type staticValue struct{ v any }

func unwrapStatic(v any) any {
	if sv, ok := v.(staticValue); ok {
		return sv.v
	}
	return v
}

// value resolves the value bound to an ADDRESS or FIELD element. Static
// bindings win over parameter bindings.
func (b *Builder) value(ctx context.Context, el protocol.MessageElement, opts protocol.BuildOptions) (any, error) {
	if v, ok := opts.StaticBindings[el.ID]; ok {
		return staticValue{v}, nil
	}
	binding, ok := opts.Bindings[el.ID]
	if !ok || binding.Parameter == "" {
		return nil, &BindingError{ElementID: el.ID, Err: ErrMissingBinding}
	}
	v, ok := opts.Params[binding.Parameter]
	if !ok || v == nil {
		return nil, &BindingError{ElementID: el.ID, Parameter: binding.Parameter, Err: ErrMissingParameter}
	}
	if binding.Transform == "" {
		return v, nil
	}
	out, err := b.transform(ctx, binding.Transform, v)
	if err == nil {
		// the result must still encode as the element's data type
		if dt, ok := dataTypeOf(el); ok {
			_, err = encodeValue(out, dt, protocol.BigEndian)
		}
	}
	if err != nil {
		b.metrics.RecordTransformFailure()
		b.log.Warn().Err(err).Str("element", el.ID).Str("parameter", binding.Parameter).
			Msg("Transform failed, using untransformed value")
		return v, nil
	}
	return out, nil
}

func (b *Builder) transform(ctx context.Context, src string, v any) (any, error) {
	if b.exec == nil {
		return nil, errors.New("no script executor configured")
	}
	out, err := b.exec.Execute(ctx, src, map[string]any{"value": v}, b.TransformTimeout)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("transform returned no value")
	}
	return out, nil
}

func dataTypeOf(el protocol.MessageElement) (protocol.DataType, bool) {
	switch cfg := el.Config.(type) {
	case protocol.AddressConfig:
		return cfg.DataType, true
	case protocol.FieldConfig:
		return cfg.DataType, true
	}
	return "", false
}

func encodeBound(el protocol.MessageElement, v any, dt protocol.DataType, order protocol.ByteOrder) ([]byte, error) {
	elOrder := el.Order(order)
	var (
		out []byte
		err error
	)
	if sv, ok := v.(staticValue); ok {
		out, err = encodeStatic(sv.v, dt, elOrder)
	} else {
		out, err = encodeValue(v, dt, elOrder)
	}
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", el.ID, err)
	}
	if n, ok := el.Size.Fixed(); ok {
		out = fit(out, n, dt.IsNumeric(), elOrder)
	}
	return out, nil
}

func filled(el protocol.MessageElement, fill byte) ([]byte, error) {
	n, ok := el.Size.Fixed()
	if !ok {
		return nil, fmt.Errorf("element %s: %w: %s", el.ID, ErrUnsizedElement, el.Config.Kind())
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = fill
	}
	return out, nil
}

func encodeLength(total, width int, order protocol.ByteOrder) ([]byte, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrInvalidValue, total)
	}
	if width < 8 && uint64(total) >= uint64(1)<<(8*width) {
		return nil, fmt.Errorf("%w: length %d does not fit in %d bytes", ErrInvalidValue, total, width)
	}
	return codec.EncodeUint(uint64(total), width, order)
}

func structureOrder(s protocol.MessageStructure) protocol.ByteOrder {
	if s.ByteOrder == "" {
		return protocol.BigEndian
	}
	return s.ByteOrder
}
