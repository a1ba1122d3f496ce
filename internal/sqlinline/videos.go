package sqlinline

const QInsertVideoJob = `--sql 3d052b93-7887-4feb-bbe4-cc27e42dec0b
insert into video_jobs (video_id, owner_id, prompt, size, seconds, watermark_required, status, created_at, updated_at)
values ($1::text, nullif($2::text, ''), $3::text, $4::text, $5::text, $6::boolean, $7::text, now(), now());
`

const QSelectVideoJob = `--sql 38a63e9b-7bdf-4985-a863-0ef6dc4484df
select
    video_id,
    coalesce(owner_id, '') as owner_id,
    prompt,
    size,
    seconds,
    watermark_required,
    status,
    coalesce(output_url, '') as output_url,
    created_at,
    updated_at
from video_jobs
where video_id = $1::text
limit 1;
`

// QUpdateVideoJobStatus never touches rows that already carry an output URL.
const QUpdateVideoJobStatus = `--sql 94e23502-2787-4b7e-953b-01ac201469dd
update video_jobs
set status = $2::text,
    updated_at = now()
where video_id = $1::text
  and output_url is null;
`

// QCompleteVideoJob is the write-once commit: it returns a row only for the
// caller that set output_url.
const QCompleteVideoJob = `--sql 3ea0871c-c191-4a18-9489-3a89da53c0c5
update video_jobs
set status = 'completed',
    output_url = $2::text,
    updated_at = now()
where video_id = $1::text
  and output_url is null
returning output_url;
`

const QListPendingVideoJobs = `--sql f87c7654-ea6c-44e8-aee8-ac2a8cad2387
select
    video_id,
    coalesce(owner_id, '') as owner_id,
    prompt,
    size,
    seconds,
    watermark_required,
    status,
    coalesce(output_url, '') as output_url,
    created_at,
    updated_at
from video_jobs
where output_url is null
  and status <> 'failed'
order by created_at asc
limit $1::int;
`
