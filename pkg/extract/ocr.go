// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"

	"github.com/otiai10/gosseract/v2"

	"github.com/kadirpekel/sage/pkg/fault"
)

// TesseractOCR implements OCR on the tesseract engine.
//
// gosseract clients are not safe for concurrent use, so one is created per
// call; client setup is cheap next to recognition.
type TesseractOCR struct {
	languages []string
}

// NewTesseractOCR creates the OCR engine. Languages default to English.
func NewTesseractOCR(languages ...string) *TesseractOCR {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractOCR{languages: languages}
}

// Text runs recognition on the image file.
func (t *TesseractOCR) Text(ctx context.Context, imagePath string) (string, error) {
	const op = "extract.ocr"

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fault.Wrapf(fault.KindTransient, op, err, "set language")
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fault.Wrapf(fault.KindValidation, op, err, "set image")
	}

	text, err := client.Text()
	if err != nil {
		return "", fault.Wrapf(fault.KindTransient, op, err, "recognize")
	}
	return text, nil
}

var _ OCR = (*TesseractOCR)(nil)
