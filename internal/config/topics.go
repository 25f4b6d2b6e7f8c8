package config

const (
	// TopicIngestFile carries file tasks: one message per accepted upload.
	TopicIngestFile = "ingest.file"

	// TopicIngestRecord carries one record message per source row.
	TopicIngestRecord = "ingest.record"
)

// ChannelFileWorker and ChannelIngestWorker name the consumer groups.
const (
	ChannelFileWorker   = "splitter"
	ChannelIngestWorker = "indexer"
)
