// Package preview aggregates pictures posted by cameras into previews of
// tracked objects: one face picture, the first body picture from every
// camera and a run of body pictures from one camera. Previews are kept in
// a bounded store and their pictures in a blob store.
package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Cameras is the number of cameras feeding body pictures.
const Cameras = 4

// ObjectType tells what a picture shows.
type ObjectType string

// Object types. Anything that is not a face is treated as a body.
const (
	Face ObjectType = "face"
	Body ObjectType = "body"
)

var errInvalidPicture = errors.New("invalid picture")

// Picture is one picture as posted by a camera. Data travels base64
// encoded in JSON.
type Picture struct {
	Camera    int        `json:"camera"`
	Object    uint32     `json:"object"`
	Type      ObjectType `json:"type"`
	Timestamp int64      `json:"timestamp"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Size      int        `json:"size"`
	Data      []byte     `json:"data"`

	received time.Time
}

// DecodePicture parses a posted picture and checks its camera and size.
func DecodePicture(body []byte) (*Picture, error) {
	var p Picture
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode picture: %w", err)
	}
	if p.Type != Face {
		p.Type = Body
	}
	if p.Camera < 0 || p.Camera >= Cameras {
		return nil, fmt.Errorf("%w: camera %d out of range", errInvalidPicture, p.Camera)
	}
	if p.Size == 0 {
		p.Size = len(p.Data)
	}
	if p.Size != len(p.Data) {
		return nil, fmt.Errorf("%w: size %d does not match %d data bytes", errInvalidPicture, p.Size, len(p.Data))
	}
	return &p, nil
}

// encode returns the JSON form a preview serves for this picture.
func (p *Picture) encode() ([]byte, error) {
	return json.Marshal(p)
}
