package feed

import (
	"map-api/internal/category"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 文档注释：各接口单条记录的 JSON Schema
// 背景：上游字段可能缺失或类型漂移（价格为字符串、坐标为 null 等）；入库前逐条校验，保证属性替换要么完整要么不发生。
// 约束：时间戳与 post_url 只校验类型，格式在解码阶段检查。
const zoneSchema = `{
  "type": "object",
  "required": ["id", "name", "points"],
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": "string"},
    "description": {"type": ["string", "null"]},
    "points": {
      "oneOf": [
        {"$ref": "#/$defs/polygon"},
        {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/polygon"}}
      ]
    }
  },
  "$defs": {
    "point": {"type": "array", "minItems": 2, "maxItems": 2, "items": {"type": "number"}},
    "polygon": {"type": "array", "minItems": 3, "items": {"$ref": "#/$defs/point"}}
  }
}`

const houseSchema = `{
  "type": "object",
  "required": ["id", "title", "x", "y"],
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": ["string", "null"]},
    "title": {"type": "string"},
    "location": {"type": ["string", "null"]},
    "owner": {"type": ["string", "null"]},
    "price": {"type": ["number", "null"]},
    "expires": {"type": ["string", "null"]},
    "x": {"type": "number"},
    "y": {"type": "number"}
  }
}`

const blipSchema = `{
  "type": "object",
  "required": ["id", "name", "icon", "x", "y"],
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": "string"},
    "icon": {"type": "string"},
    "x": {"type": "number"},
    "y": {"type": "number"}
  }
}`

const eventSchema = `{
  "type": "object",
  "required": ["id", "name", "post_url", "x", "y"],
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": "string"},
    "description": {"type": ["string", "null"]},
    "location": {"type": ["string", "null"]},
    "post_url": {"type": "string", "minLength": 1},
    "start_date": {"type": ["string", "null"]},
    "end_date": {"type": ["string", "null"]},
    "x": {"type": "number"},
    "y": {"type": "number"}
  }
}`

var schemas = map[category.Category]*jsonschema.Schema{
	category.Zone:  jsonschema.MustCompileString("zone.json", zoneSchema),
	category.House: jsonschema.MustCompileString("house.json", houseSchema),
	category.Blip:  jsonschema.MustCompileString("blip.json", blipSchema),
	category.Event: jsonschema.MustCompileString("event.json", eventSchema),
}

func schemaFor(c category.Category) (*jsonschema.Schema, error) {
	if err := category.Check("feed_schema", c); err != nil {
		return nil, err
	}
	return schemas[c], nil
}
