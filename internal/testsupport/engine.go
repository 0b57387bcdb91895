package testsupport

// EchoEngine announces itself, reports its arguments, and answers every
// stdin line with a transcription of that line's type field.
const EchoEngine = `echo '{"type":"status","data":{"message":"listening"}}'
echo "{\"type\":\"status\",\"data\":{\"message\":\"args $*\"}}"
while IFS= read -r line; do
  kind=$(printf '%s' "$line" | sed -n 's/.*"type":"\([^"]*\)".*/\1/p')
  echo "{\"type\":\"transcription\",\"data\":{\"text\":\"heard $kind\"}}"
done
`

// CrashingEngine exits with status 3 after one status line.
const CrashingEngine = `echo '{"type":"status","data":{"message":"starting"}}'
sleep 0.1
exit 3
`

// DeafEngine announces itself and then never reads stdin.
const DeafEngine = `echo '{"type":"status","data":{"message":"listening"}}'
exec sleep 60
`
