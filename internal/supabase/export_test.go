package supabase

func NewStorageClientWithAPI(api objectAPI, baseURL, bucket string) *StorageClient {
	return newStorageClient(api, baseURL, bucket)
}

func NewRealtimeClientWithInserter(insert func(table string, row interface{}) error) *RealtimeClient {
	return &RealtimeClient{insert: insert}
}
