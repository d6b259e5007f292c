package export

// Column describes one exported field. Weight scales the PDF column width
// relative to the other columns, zero counts as one.
type Column struct {
	Key    string
	Title  string
	Weight float64
}

// Dataset defines tabular export content.
type Dataset struct {
	Columns []Column
	Rows    []map[string]string
}

func (d Dataset) titles() []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		if col.Title == "" {
			out[i] = col.Key
			continue
		}
		out[i] = col.Title
	}
	return out
}

func (d Dataset) record(row map[string]string) []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		out[i] = row[col.Key]
	}
	return out
}
