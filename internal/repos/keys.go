package repos

import "strings"

// Key layout. The membership set and the queue live beside the records they
// index so the reconciler can cross-check them with plain scans.
const (
	QueueKey              = "queue:submissions"
	SubmissionKeyPattern  = "submission:*"
	submissionKeyPrefix   = "submission:"
	batchKeyPrefix        = "batch:"
	batchMembershipSuffix = ":submissions"
	batchFileIndexInfix   = ":file:"
)

func BatchKey(id string) string { return batchKeyPrefix + id }

func BatchMembershipKey(id string) string { return batchKeyPrefix + id + batchMembershipSuffix }

func SubmissionKey(id string) string { return submissionKeyPrefix + id }

// BatchFileIndexKey maps a batch-scoped object key to the submission created
// for it. Claiming this key atomically is what makes duplicate creates for
// the same file converge on one submission.
func BatchFileIndexKey(batchID, fileKey string) string {
	return batchKeyPrefix + batchID + batchFileIndexInfix + fileKey
}

// SubmissionIDFromKey returns the id encoded in a submission record key, or
// "" if the key is not one.
func SubmissionIDFromKey(key string) string {
	if !strings.HasPrefix(key, submissionKeyPrefix) {
		return ""
	}
	return strings.TrimPrefix(key, submissionKeyPrefix)
}

// IsBatchRecordKey distinguishes batch records from their membership sets
// and file index entries, which share the prefix.
func IsBatchRecordKey(key string) bool {
	return strings.HasPrefix(key, batchKeyPrefix) &&
		!strings.HasSuffix(key, batchMembershipSuffix) &&
		!strings.Contains(key, batchFileIndexInfix)
}
