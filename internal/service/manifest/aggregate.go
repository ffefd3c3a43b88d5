package manifest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/logger"
)

const (
	// objectSuffix is the extension of aggregated per-object documents.
	objectSuffix = ".object"

	// dirPermissions is used for directories created in the staging tree.
	dirPermissions = 0o755
	// filePermissions is used for documents written to the staging tree.
	filePermissions = 0o644
)

// objectDocument is the XML shape of an aggregated per-object document.
type objectDocument struct {
	XMLName xml.Name     `xml:"CustomObject"`
	Xmlns   string       `xml:"xmlns,attr"`
	Fields  []fieldBlock `xml:"fields"`
}

// fieldBlock holds the properties of one field.
type fieldBlock struct {
	Properties []rawElement
}

// rawElement is an element whose name comes from the fragment and whose content is emitted verbatim.
type rawElement struct {
	XMLName xml.Name
	Content string `xml:",innerxml"`
}

// Aggregator merges changed field fragments into per-object documents.
type Aggregator struct {
	// rules locate field descriptors and the objects folder.
	rules *metadata.Rules
	// sourceRoot is the directory fragments are read from.
	sourceRoot string
	// stagingRoot is the directory documents are written to.
	stagingRoot string
}

// NewAggregator creates an aggregator reading from sourceRoot and writing to stagingRoot.
func NewAggregator(rules *metadata.Rules, sourceRoot, stagingRoot string) *Aggregator {
	if rules == nil {
		rules = metadata.DefaultRules()
	}

	return &Aggregator{
		rules:       rules,
		sourceRoot:  sourceRoot,
		stagingRoot: stagingRoot,
	}
}

// AggregateFields writes one document per object with one fields block per changed field,
// at objects/<Object>.object inside the staging tree. It returns the written relative paths.
// The first missing or malformed fragment aborts the whole operation.
func (a *Aggregator) AggregateFields(ctx context.Context, groups metadata.FieldGroups) ([]string, error) {
	written := make([]string, 0, len(groups))

	for _, objectName := range groups.Objects() {
		doc := objectDocument{Xmlns: Namespace}

		for _, fieldName := range groups.Fields(objectName) {
			block, err := a.readField(objectName, fieldName)
			if err != nil {
				return nil, err
			}

			doc.Fields = append(doc.Fields, block)
		}

		relPath, err := a.writeObject(objectName, doc)
		if err != nil {
			return nil, err
		}

		logger.DebugKV(ctx, "Aggregated object fields",
			"object", objectName, "fields", len(doc.Fields), "path", relPath)

		written = append(written, relPath)
	}

	return written, nil
}

// readField scans the descriptor of one field.
func (a *Aggregator) readField(objectName, fieldName string) (fieldBlock, error) {
	relPath := a.rules.FieldPath(objectName, fieldName)

	file, err := os.Open(filepath.Join(a.sourceRoot, filepath.FromSlash(relPath)))
	if errors.Is(err, os.ErrNotExist) {
		return fieldBlock{}, fmt.Errorf("%s: %w", relPath, ErrFragmentMissing)
	}

	if err != nil {
		return fieldBlock{}, fmt.Errorf("open %s: %w", relPath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	properties, err := ScanFragment(file)
	if err != nil {
		return fieldBlock{}, &FragmentParseError{Path: relPath, Err: err}
	}

	block := fieldBlock{Properties: make([]rawElement, 0, len(properties))}
	for _, property := range properties {
		block.Properties = append(block.Properties, rawElement{
			XMLName: xml.Name{Local: property.Key},
			Content: property.Value,
		})
	}

	return block, nil
}

// writeObject renders and writes a per-object document.
func (a *Aggregator) writeObject(objectName string, doc objectDocument) (string, error) {
	contents, err := marshalDocument(doc)
	if err != nil {
		return "", fmt.Errorf("render object %s: %w", objectName, err)
	}

	relPath := a.rules.ObjectsFolder() + "/" + objectName + objectSuffix
	target := filepath.Join(a.stagingRoot, filepath.FromSlash(relPath))

	if err = os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return "", fmt.Errorf("create objects folder: %w", err)
	}

	if err = os.WriteFile(target, contents, filePermissions); err != nil {
		return "", fmt.Errorf("write object %s: %w", objectName, err)
	}

	return relPath, nil
}
