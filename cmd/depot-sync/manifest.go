package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/depotsync/internal/pipeline"
)

// manifest lists the entities a run works on:
//
//	entities:
//	  - type: Asset
//	    id: 1204
//	    code: hero
//	  - type: Shot
//	    id: 88
//	    code: sq010_0040
type manifest struct {
	Entities []pipeline.EntityRef `yaml:"entities"`
}

var errNoManifest = errors.New("no entities: pass --manifest")

func loadManifest(path string) ([]pipeline.EntityRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) ([]pipeline.EntityRef, error) {
	var m manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, e := range m.Entities {
		if e.Type == "" {
			return nil, fmt.Errorf("parse manifest: entity %d has no type", i)
		}
		if e.ID == 0 && e.Code == "" {
			return nil, fmt.Errorf("parse manifest: entity %d needs an id or a code", i)
		}
	}
	return m.Entities, nil
}
