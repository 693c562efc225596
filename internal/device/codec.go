package device

import "strings"

// DataFiles are the data and storage files an installed app has declared
type DataFiles struct {
	DataFiles    []string `json:"dataFiles"`
	StorageFiles []string `json:"storageFiles"`
}

// Codec converts the data string of an installed app record
type Codec interface {
	Decode(data string) DataFiles
	Encode(files DataFiles) string
}

// InfoCodec is the format used in the device's .info manifests:
// "data1,data2;storage1,storage2", with the storage part omitted when empty.
type InfoCodec struct{}

// Decode parses a data string
func (InfoCodec) Decode(data string) DataFiles {
	dataPart, storagePart, _ := strings.Cut(data, ";")
	return DataFiles{
		DataFiles:    splitList(dataPart),
		StorageFiles: splitList(storagePart),
	}
}

// Encode builds a data string
func (InfoCodec) Encode(files DataFiles) string {
	if len(files.DataFiles) == 0 && len(files.StorageFiles) == 0 {
		return ""
	}
	data := strings.Join(files.DataFiles, ",")
	if len(files.StorageFiles) == 0 {
		return data
	}
	return data + ";" + strings.Join(files.StorageFiles, ",")
}

var _ Codec = InfoCodec{}
