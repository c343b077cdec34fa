package store

import "time"

type DateRange struct {
	Earliest string `json:"Earliest"`
	Latest   string `json:"Latest"`
}

type SenderCount struct {
	Sender string `json:"Sender"`
	Count  int    `json:"Count"`
}

type Folder struct {
	ID              string
	FolderName      string
	ExportDate      string
	EmailCount      int
	AttachmentCount int
	DateRange       DateRange
	TopSenders      []SenderCount
}

type AttachmentRef struct {
	Guid     string `json:"Guid"`
	FileName string `json:"FileName"`
	MimeType string `json:"MimeType"`
	Size     int64  `json:"Size"`
}

type Message struct {
	ID             string
	FolderID       string
	Subject        string
	From           string
	To             string
	Cc             string
	Bcc            string
	Date           string
	SentAt         time.Time
	TextBody       string
	HTMLBody       string
	Attachments    []AttachmentRef
	HasAttachments bool
	FileName       string
	IsRead         bool
}

type ManifestFolder struct {
	Name            string    `json:"Name"`
	SafeName        string    `json:"SafeName"`
	EmailCount      int       `json:"EmailCount"`
	AttachmentCount int       `json:"AttachmentCount"`
	DateRange       DateRange `json:"DateRange"`
}

type Manifest struct {
	ExportDate       string
	TotalFolders     int
	TotalEmails      int
	TotalAttachments int
	Folders          []ManifestFolder
}

type Attachment struct {
	Guid string
	Data []byte
	Size int64
}

// Counts reports the number of rows in each collection.
type Counts struct {
	Folders     int
	Messages    int
	Attachments int
	Manifest    bool
}
