package hosted

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"holo/internal/imaging"
)

// ErrUnsupportedPayload reports provider output that cannot be mapped to an
// image or tensor.
var ErrUnsupportedPayload = errors.New("unsupported provider output")

// Tensor is a dense numeric array in row-major order.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Decoded is provider output in contract form: exactly one field is set.
type Decoded struct {
	Image  image.Image
	Tensor *Tensor
}

// Normalize picks the first payload that decodes as an image or tensor.
// Binary images, base64 strings under data or images[0], data URIs, and
// {shape,data} tensors are accepted.
func Normalize(payloads []Payload) (Decoded, error) {
	var errs []error
	for _, p := range payloads {
		d, err := normalizeOne(p)
		if err == nil {
			return d, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Decoded{}, fmt.Errorf("%w: empty response", ErrUnsupportedPayload)
	}
	return Decoded{}, fmt.Errorf("%w: %v", ErrUnsupportedPayload, errors.Join(errs...))
}

func normalizeOne(p Payload) (Decoded, error) {
	if len(p.Data) > 0 {
		img, _, err := imaging.DecodeBytes(p.Data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Image: img}, nil
	}
	text := strings.TrimSpace(stripFence(p.Text))
	if text == "" {
		return Decoded{}, errors.New("empty text part")
	}
	if strings.HasPrefix(text, "data:") {
		return decodeBase64Image(text)
	}
	if !strings.HasPrefix(text, "{") {
		return decodeBase64Image(text)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return Decoded{}, fmt.Errorf("decode json output: %w", err)
	}
	if _, ok := doc["shape"]; ok {
		var t Tensor
		if err := json.Unmarshal([]byte(text), &t); err != nil {
			return Decoded{}, fmt.Errorf("decode tensor: %w", err)
		}
		if err := t.validate(); err != nil {
			return Decoded{}, err
		}
		return Decoded{Tensor: &t}, nil
	}
	if raw, ok := doc["data"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return decodeBase64Image(s)
		}
	}
	if raw, ok := doc["images"]; ok {
		var images []map[string]string
		if err := json.Unmarshal(raw, &images); err == nil && len(images) > 0 {
			for _, field := range []string{"data", "b64_json", "base64", "b64"} {
				if s := images[0][field]; s != "" {
					return decodeBase64Image(s)
				}
			}
		}
	}
	return Decoded{}, errors.New("json output has no image or tensor field")
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}

func decodeBase64Image(s string) (Decoded, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return Decoded{}, errors.New("malformed data uri")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return Decoded{}, fmt.Errorf("decode base64: %w", err)
		}
	}
	img, _, err := imaging.DecodeBytes(data)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Image: img}, nil
}

func (t *Tensor) validate() error {
	if len(t.Shape) < 2 || len(t.Shape) > 3 {
		return fmt.Errorf("tensor shape %v must be [h,w] or [h,w,c]", t.Shape)
	}
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has non-positive dimension", t.Shape)
		}
		n *= d
	}
	if n != len(t.Data) {
		return fmt.Errorf("tensor shape %v needs %d values, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Height returns the first dimension.
func (t *Tensor) Height() int { return t.Shape[0] }

// Width returns the second dimension.
func (t *Tensor) Width() int { return t.Shape[1] }

// Plane returns channel 0 normalized to [0,1] by the tensor's own range.
func (t *Tensor) Plane() []float64 {
	c := 1
	if len(t.Shape) == 3 {
		c = t.Shape[2]
	}
	out := make([]float64, t.Height()*t.Width())
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range out {
		v := t.Data[i*c]
		out[i] = v
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range out {
		if span > 0 {
			out[i] = (v - lo) / span
		} else if v > 0 {
			out[i] = 1
		} else {
			out[i] = 0
		}
	}
	return out
}

// Mask converts d into a single-channel mask.
func (d Decoded) Mask() *image.Gray {
	if d.Image != nil {
		return imaging.MaskFromImage(d.Image)
	}
	w, h := d.Tensor.Width(), d.Tensor.Height()
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range d.Tensor.Plane() {
		mask.Pix[i] = uint8(math.Round(v * 255))
	}
	return mask
}
