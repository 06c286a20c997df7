package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

type TableField struct {
	Header    string
	Field     string
	Formatter func(item interface{}) string
}

func show(command *cli.Command, fields []TableField, result any) {
	output := command.String("output")
	switch output {
	case encodeJsonPretty:
		bytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Fatalf("failed to encode the ctl output: %v", err)
		}
		fmt.Println(string(bytes))

	case encodeJsonRaw:
		bytes, err := json.Marshal(result)
		if err != nil {
			log.Fatalf("failed to encode the ctl output: %v", err)
		}
		fmt.Println(string(bytes))

	case encodeColumn, encodeNoHeader:
		table := tablewriter.NewWriter(os.Stdout)
		table.SetBorders(tablewriter.Border{
			Left:   true,
			Right:  true,
			Top:    false,
			Bottom: false,
		})
		table.SetAutoWrapText(false)

		if output != encodeNoHeader {
			var headers []string
			for _, field := range fields {
				headers = append(headers, field.Header)
			}
			table.SetHeader(headers)
		}

		itemsValue := reflect.ValueOf(result)
		// if the itemsValue is not a slice, lets turn it into one.
		if itemsValue.Kind() != reflect.Slice {
			itemsValue = reflect.MakeSlice(reflect.SliceOf(itemsValue.Type()), 0, 1)
			itemsValue = reflect.Append(itemsValue, reflect.ValueOf(result))
		}
		for i := 0; i < itemsValue.Len(); i++ {
			itemValue := itemsValue.Index(i)
			var line []string
			for _, field := range fields {
				switch {
				case field.Formatter != nil:
					line = append(line, field.Formatter(itemValue.Interface()))
				case field.Field != "":
					fieldValue := reflect.Indirect(itemValue).FieldByName(field.Field)
					if !fieldValue.IsValid() {
						panic(fmt.Sprintf("field %s not found", field.Field))
					}
					line = append(line, fmt.Sprint(fieldValue.Interface()))
				default:
					panic("TableField.Formatter or TableField.Field must be set")
				}
			}
			table.Append(line)
		}
		table.Render()
	default:
		log.Fatalf("unknown --output option: %s", output)
	}
}
