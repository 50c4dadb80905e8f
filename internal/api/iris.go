// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// xmlElement is a generic XML tree node used to decode the IRIS ingress
// document (spec §6: "root element carries MessageTypeId and arbitrary child
// elements") without a fixed schema.
type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []xmlElement `xml:",any"`
	Content  string       `xml:",chardata"`
}

// decodeIRISMessage parses an IRIS XML document into the same flat
// string-keyed map[string]interface{} shape the JSON ingress path produces,
// so both feed the same FactMapper.
func decodeIRISMessage(r io.Reader) (map[string]interface{}, error) {
	var root xmlElement
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, apperrors.NewValidationError("invalid IRIS XML document: %v", err)
	}

	message := make(map[string]interface{})
	for _, a := range root.Attrs {
		message[a.Name.Local] = a.Value
	}
	for _, child := range root.Children {
		message[child.XMLName.Local] = elementValue(child)
	}

	msgTypeRaw, ok := message["MessageTypeId"]
	if !ok {
		return nil, apperrors.NewValidationError("IRIS message missing MessageTypeId")
	}
	msgType, err := strconv.Atoi(fmt.Sprintf("%v", msgTypeRaw))
	if err != nil {
		return nil, apperrors.NewValidationError("IRIS MessageTypeId is not an integer: %v", msgTypeRaw)
	}
	delete(message, "MessageTypeId")
	message["t"] = msgType

	return message, nil
}

func elementValue(e xmlElement) interface{} {
	if len(e.Children) == 0 {
		return e.Content
	}
	nested := make(map[string]interface{}, len(e.Children))
	for _, c := range e.Children {
		nested[c.XMLName.Local] = elementValue(c)
	}
	return nested
}

// irisResponse is the XML mirror of an IngestionResult (spec §6: "response is
// an XML document with FactId and a Counters element").
type irisResponse struct {
	XMLName  xml.Name      `xml:"FactResponse"`
	FactID   string        `xml:"FactId"`
	Counters []irisCounter `xml:"Counters>Counter"`
}

type irisCounter struct {
	Name       string          `xml:"name,attr"`
	Attributes []irisAttribute `xml:"Attribute"`
}

type irisAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func toIRISResponse(result *models.IngestionResult) irisResponse {
	resp := irisResponse{FactID: result.Fact.ID}
	for name, attrs := range result.Counters {
		counter := irisCounter{Name: name}
		for attrName, attrValue := range attrs {
			counter.Attributes = append(counter.Attributes, irisAttribute{
				Name:  attrName,
				Value: fmt.Sprintf("%v", attrValue),
			})
		}
		resp.Counters = append(resp.Counters, counter)
	}
	return resp
}

// exampleMessageRoot is the XML shape of a synthetic example message (spec
// §6 GET .../{t}/iris): a flat root element with MessageTypeId plus one
// child element per field.
type exampleMessageRoot struct {
	XMLName       xml.Name `xml:"Message"`
	MessageTypeID int      `xml:"MessageTypeId"`
	Fields        []exampleField
}

type exampleField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// MarshalXML flattens the message map into sibling elements alongside
// MessageTypeId, matching the shape decodeIRISMessage expects on ingest.
func (e exampleMessageRoot) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	start.Name = e.XMLName
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := enc.EncodeElement(e.MessageTypeID, xml.StartElement{Name: xml.Name{Local: "MessageTypeId"}}); err != nil {
		return err
	}
	for _, f := range e.Fields {
		if err := enc.EncodeElement(f.Value, xml.StartElement{Name: f.XMLName}); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func exampleMessageToXML(messageType int, message map[string]interface{}) exampleMessageRoot {
	root := exampleMessageRoot{XMLName: xml.Name{Local: "Message"}, MessageTypeID: messageType}
	for k, v := range message {
		if k == "t" {
			continue
		}
		root.Fields = append(root.Fields, exampleField{
			XMLName: xml.Name{Local: k},
			Value:   fmt.Sprintf("%v", v),
		})
	}
	return root
}
